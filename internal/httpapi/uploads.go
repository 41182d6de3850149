package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
	"drive-go/internal/staging"
)

// UploadHandler serves chunked uploads: begin, send chunks in any order,
// then complete to store the assembled file.
type UploadHandler struct {
	engine  *drive.Engine
	staging *staging.Area
	logger  drive.Logger
}

func NewUploadHandler(engine *drive.Engine, area *staging.Area, logger drive.Logger) *UploadHandler {
	return &UploadHandler{engine: engine, staging: area, logger: logger}
}

// Begin handles POST /api/uploads
func (h *UploadHandler) Begin(c *gin.Context) {
	var req struct {
		Path         string `json:"path"`
		Name         string `json:"name" binding:"required"`
		RelativePath string `json:"relative_path"`
		TotalSize    int64  `json:"total_size"`
		TotalChunks  int    `json:"total_chunks" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and total_chunks are required")
		return
	}
	if !authorize(c, h.engine, req.Path, drive.AccessEdit) {
		return
	}
	u := currentUser(c)

	// Shared targets are charged to their owner; that check happens when
	// the upload completes.
	if !strings.HasPrefix(req.Path, "users/") {
		ok, err := h.engine.Quota().CanAdmit(u, req.TotalSize)
		if err != nil {
			respondError(c, err)
			return
		}
		if !ok {
			respondError(c, drive.ErrQuotaExceeded)
			return
		}
	}

	up, err := h.staging.Begin(u, staging.BeginRequest{
		Dir:          req.Path,
		Name:         req.Name,
		RelativePath: req.RelativePath,
		TotalSize:    req.TotalSize,
		TotalChunks:  req.TotalChunks,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "upload": up})
}

// Status handles GET /api/uploads/:id
func (h *UploadHandler) Status(c *gin.Context) {
	up, err := h.staging.Status(currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "upload": up, "progress": progress(up)})
}

// PutChunk handles PUT /api/uploads/:id/chunks/:index with the raw chunk
// bytes as the request body.
func (h *UploadHandler) PutChunk(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "chunk index must be a number")
		return
	}
	up, err := h.staging.PutChunk(currentUser(c), c.Param("id"), index, c.Request.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "upload": up, "progress": progress(up)})
}

// Complete handles POST /api/uploads/:id/complete
func (h *UploadHandler) Complete(c *gin.Context) {
	result, err := h.staging.Complete(c.Request.Context(), h.engine, currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !result.Success {
		c.JSON(statusFor(result.Code), gin.H{"success": false, "result": result, "error": result.Error, "code": result.Code})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

// Abort handles DELETE /api/uploads/:id
func (h *UploadHandler) Abort(c *gin.Context) {
	if err := h.staging.Abort(currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func progress(up *staging.Upload) float64 {
	if up.TotalSize == 0 {
		return float64(up.ReceivedChunks) / float64(up.TotalChunks) * 100
	}
	return float64(up.ReceivedBytes) / float64(up.TotalSize) * 100
}
