package httpapi

import (
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
)

const defaultPerPage = 50

type FileHandler struct {
	engine *drive.Engine
	logger drive.Logger
}

func NewFileHandler(engine *drive.Engine, logger drive.Logger) *FileHandler {
	return &FileHandler{engine: engine, logger: logger}
}

// List handles GET /api/files?path=&page=&per_page=
func (h *FileHandler) List(c *gin.Context) {
	path := c.Query("path")
	if !authorize(c, h.engine, path, drive.AccessView) {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))

	listing, err := h.engine.List(c.Request.Context(), currentUser(c), path, page, perPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": listing.Path, "items": listing.Items, "pagination": listing.Pagination})
}

// Info handles GET /api/files/info?path=
func (h *FileHandler) Info(c *gin.Context) {
	path := c.Query("path")
	if !authorize(c, h.engine, path, drive.AccessView) {
		return
	}
	entry, err := h.engine.GetFileInfo(c.Request.Context(), currentUser(c), path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "file": entry})
}

// Download handles GET /api/files/download?path=
func (h *FileHandler) Download(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		badRequest(c, "path is required")
		return
	}
	if !authorize(c, h.engine, path, drive.AccessView) {
		return
	}
	rc, entry, err := h.engine.Open(c.Request.Context(), currentUser(c), path)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	var size int64 = -1
	if entry.Size != nil {
		size = *entry.Size
	}
	contentType := entry.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, size, contentType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": entry.Name}),
	})
}

// CreateFolder handles POST /api/files/folder
func (h *FileHandler) CreateFolder(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	if !authorize(c, h.engine, req.Path, drive.AccessEdit) {
		return
	}
	created, err := h.engine.CreateFolder(c.Request.Context(), currentUser(c), req.Path, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "path": created})
}

// Rename handles PUT /api/files/rename
func (h *FileHandler) Rename(c *gin.Context) {
	var req struct {
		Path    string `json:"path" binding:"required"`
		NewName string `json:"new_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path and new_name are required")
		return
	}
	if !authorize(c, h.engine, req.Path, drive.AccessEdit) {
		return
	}
	renamed, err := h.engine.Rename(c.Request.Context(), currentUser(c), req.Path, req.NewName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": renamed})
}

// Move handles PUT /api/files/move
func (h *FileHandler) Move(c *gin.Context) {
	var req struct {
		Path   string `json:"path" binding:"required"`
		Target string `json:"target"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	if !authorize(c, h.engine, req.Path, drive.AccessEdit) || !authorize(c, h.engine, req.Target, drive.AccessEdit) {
		return
	}
	moved, err := h.engine.Move(c.Request.Context(), currentUser(c), req.Path, req.Target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": moved})
}

// Delete handles DELETE /api/files/delete?path=
func (h *FileHandler) Delete(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		badRequest(c, "path is required")
		return
	}
	if !authorize(c, h.engine, path, drive.AccessEdit) {
		return
	}
	if err := h.engine.Delete(c.Request.Context(), currentUser(c), path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// BatchDelete handles DELETE /api/files/batch-delete. Items the caller may
// not edit are reported as failed without touching the others.
func (h *FileHandler) BatchDelete(c *gin.Context) {
	var req struct {
		Paths []string `json:"paths" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Paths) == 0 {
		badRequest(c, "paths is required")
		return
	}
	u := currentUser(c)

	allowed := make([]string, 0, len(req.Paths))
	var denied []drive.ItemResult
	for _, p := range req.Paths {
		if err := checkAccess(h.engine, u, p, drive.AccessEdit); err != nil {
			cat := drive.Classify(err)
			denied = append(denied, drive.ItemResult{Path: p, Error: cat.Message, Code: cat.Code})
			continue
		}
		allowed = append(allowed, p)
	}

	result := h.engine.BatchDelete(c.Request.Context(), u, allowed)
	result.Results = append(result.Results, denied...)
	c.JSON(http.StatusOK, gin.H{
		"success":       result.Succeeded > 0,
		"results":       result.Results,
		"success_count": result.Succeeded,
		"total_count":   len(req.Paths),
	})
}

// Upload handles POST /api/files/upload as multipart form data: "path",
// one or more "files" and optionally a parallel list of "relative_paths"
// for folder uploads.
func (h *FileHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "expected multipart form data")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		badRequest(c, "no files uploaded")
		return
	}
	path := c.PostForm("path")
	if !authorize(c, h.engine, path, drive.AccessEdit) {
		return
	}

	uploads := make([]drive.Upload, 0, len(headers))
	var files []multipart.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.logger.Error("opening uploaded part failed", "name", fh.Filename, "error", err)
			badRequest(c, "could not read uploaded file")
			return
		}
		files = append(files, f)
		uploads = append(uploads, drive.Upload{Name: fh.Filename, Size: fh.Size, Content: f})
	}

	results, err := h.engine.UploadFiles(c.Request.Context(), currentUser(c), path, uploads, form.Value["relative_paths"])
	if err != nil {
		respondError(c, err)
		return
	}
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       succeeded > 0,
		"results":       results,
		"success_count": succeeded,
		"total_count":   len(results),
	})
}

// Search handles GET /api/search?q=&path=
func (h *FileHandler) Search(c *gin.Context) {
	path := c.Query("path")
	if !authorize(c, h.engine, path, drive.AccessView) {
		return
	}
	results, err := h.engine.Search(c.Request.Context(), currentUser(c), c.Query("q"), path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results, "count": len(results)})
}

// Quota handles GET /api/quota
func (h *FileHandler) Quota(c *gin.Context) {
	info, err := h.engine.Quota().Info(currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quota": info})
}

// RecalculateQuota handles POST /api/quota/recalculate
func (h *FileHandler) RecalculateQuota(c *gin.Context) {
	u := currentUser(c)
	if _, err := h.engine.RecalculateQuota(c.Request.Context(), u); err != nil {
		respondError(c, err)
		return
	}
	info, err := h.engine.Quota().Info(u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quota": info})
}
