package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
)

type ShareHandler struct {
	engine *drive.Engine
	logger drive.Logger
}

func NewShareHandler(engine *drive.Engine, logger drive.Logger) *ShareHandler {
	return &ShareHandler{engine: engine, logger: logger}
}

// shareView adds the absolute path a grantee uses to reach the share.
type shareView struct {
	*drive.Share
	SharedPath string `json:"shared_path"`
}

func toShareViews(shares []*drive.Share) []shareView {
	views := make([]shareView, 0, len(shares))
	for _, sh := range shares {
		views = append(views, shareView{Share: sh, SharedPath: drive.SharedRoot(sh)})
	}
	return views
}

// Incoming handles GET /api/shares
func (h *ShareHandler) Incoming(c *gin.Context) {
	shares, err := h.engine.Shares().SharedWith(currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shares": toShareViews(shares)})
}

// Outgoing handles GET /api/shares/owned
func (h *ShareHandler) Outgoing(c *gin.Context) {
	shares, err := h.engine.Shares().SharedBy(currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shares": toShareViews(shares)})
}

// Create handles POST /api/shares. Path is relative to the caller's drive.
func (h *ShareHandler) Create(c *gin.Context) {
	var req struct {
		Path        string     `json:"path" binding:"required"`
		Username    string     `json:"username" binding:"required"`
		AccessLevel string     `json:"access_level"`
		ExpiresAt   *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path and username are required")
		return
	}
	if req.AccessLevel == "" {
		req.AccessLevel = string(drive.AccessView)
	}

	ctx := c.Request.Context()
	grantee, err := h.engine.LookupUser(ctx, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	share, err := h.engine.Shares().Grant(currentUser(c), grantee.ID, req.Path, drive.AccessLevel(req.AccessLevel), req.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "share": shareView{Share: share, SharedPath: drive.SharedRoot(share)}})
}

// Update handles PUT /api/shares/:id
func (h *ShareHandler) Update(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}
	var req struct {
		AccessLevel string     `json:"access_level" binding:"required"`
		ExpiresAt   *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "access_level is required")
		return
	}
	share, err := h.engine.Shares().Update(currentUser(c), id, drive.AccessLevel(req.AccessLevel), req.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "share": share})
}

// Delete handles DELETE /api/shares/:id
func (h *ShareHandler) Delete(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}
	if err := h.engine.Shares().Revoke(currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func shareID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid share id")
		return 0, false
	}
	return id, true
}
