package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
)

// ActivityHandler serves stars, recents and notifications.
type ActivityHandler struct {
	engine *drive.Engine
	logger drive.Logger
}

func NewActivityHandler(engine *drive.Engine, logger drive.Logger) *ActivityHandler {
	return &ActivityHandler{engine: engine, logger: logger}
}

// Starred handles GET /api/starred
func (h *ActivityHandler) Starred(c *gin.Context) {
	items, err := h.engine.Starred(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": items})
}

// ToggleStar handles POST /api/starred/toggle
func (h *ActivityHandler) ToggleStar(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	if !authorize(c, h.engine, req.Path, drive.AccessView) {
		return
	}
	starred, err := h.engine.ToggleStar(c.Request.Context(), currentUser(c), req.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "is_starred": starred})
}

// Recents handles GET /api/recents
func (h *ActivityHandler) Recents(c *gin.Context) {
	items, err := h.engine.Recents(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": items})
}

// Notifications handles GET /api/notifications
func (h *ActivityHandler) Notifications(c *gin.Context) {
	notes, err := h.engine.Notifications(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	unread := 0
	for _, n := range notes {
		if n.ReadAt == nil {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notifications": notes, "unread_count": unread})
}

// MarkRead handles POST /api/notifications/:id/read
func (h *ActivityHandler) MarkRead(c *gin.Context) {
	if err := h.engine.MarkNotificationRead(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
