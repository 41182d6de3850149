package httpapi

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
)

type TrashHandler struct {
	engine *drive.Engine
	logger drive.Logger
}

func NewTrashHandler(engine *drive.Engine, logger drive.Logger) *TrashHandler {
	return &TrashHandler{engine: engine, logger: logger}
}

// List handles GET /api/trash
func (h *TrashHandler) List(c *gin.Context) {
	items, err := h.engine.Trash().List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"items":          items,
		"retention_days": h.engine.Trash().RetentionDays(),
	})
}

type trashRequest struct {
	Path string `json:"path" binding:"required"`
}

// Restore handles POST /api/trash/restore
func (h *TrashHandler) Restore(c *gin.Context) {
	var req trashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	restored, err := h.engine.Trash().Restore(c.Request.Context(), currentUser(c), req.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": restored})
}

// Purge handles DELETE /api/trash/purge
func (h *TrashHandler) Purge(c *gin.Context) {
	var req trashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	freed, err := h.engine.Trash().Purge(c.Request.Context(), currentUser(c), req.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "freed": freed, "freed_formatted": humanize.IBytes(uint64(freed))})
}

// Empty handles DELETE /api/trash
func (h *TrashHandler) Empty(c *gin.Context) {
	purged, freed, err := h.engine.Trash().Empty(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "purged": purged, "freed": freed, "freed_formatted": humanize.IBytes(uint64(freed))})
}
