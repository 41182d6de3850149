package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
)

type AdminHandler struct {
	engine *drive.Engine
	logger drive.Logger
}

func NewAdminHandler(engine *drive.Engine, logger drive.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, logger: logger}
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.engine.Quota().Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats, "storage": h.engine.Health(c.Request.Context())})
}

// Users handles GET /api/admin/users
func (h *AdminHandler) Users(c *gin.Context) {
	users, err := h.engine.Users(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}

// SetQuota handles PUT /api/admin/users/:username/quota
func (h *AdminHandler) SetQuota(c *gin.Context) {
	var req struct {
		QuotaBytes *int64 `json:"quota_bytes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quota_bytes is required")
		return
	}
	ctx := c.Request.Context()
	u, err := h.engine.LookupUser(ctx, c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.engine.Quota().SetQuota(u.ID, *req.QuotaBytes); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("quota changed", "admin", currentUser(c).Username, "user", u.Username, "quota_bytes", *req.QuotaBytes)

	info, err := h.engine.Quota().Info(u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quota": info})
}

// Recalculate handles POST /api/admin/users/:username/recalculate
func (h *AdminHandler) Recalculate(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.engine.LookupUser(ctx, c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	used, err := h.engine.RecalculateQuota(ctx, u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "used": used})
}

// ReconcileAll handles POST /api/admin/reconcile
func (h *AdminHandler) ReconcileAll(c *gin.Context) {
	n, err := h.engine.ReconcileAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reconciled": n})
}
