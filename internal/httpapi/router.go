// Package httpapi exposes the storage engine over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drive-go/internal/config"
	"drive-go/internal/drive"
	"drive-go/internal/metrics"
	"drive-go/internal/staging"
)

// Deps are the collaborators the HTTP layer serves from. Metrics may be nil.
type Deps struct {
	Engine  *drive.Engine
	Staging *staging.Area
	Metrics *metrics.Metrics
	Logger  drive.Logger
	Server  config.ServerConfig
}

// NewRouter sets up all API routes.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = drive.NewNopLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))
	if deps.Metrics != nil {
		router.Use(instrument(deps.Metrics))
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/healthz", func(c *gin.Context) {
		h := deps.Engine.Health(c.Request.Context())
		status := http.StatusOK
		if !h.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	})

	fileHandler := NewFileHandler(deps.Engine, deps.Logger)
	uploadHandler := NewUploadHandler(deps.Engine, deps.Staging, deps.Logger)
	trashHandler := NewTrashHandler(deps.Engine, deps.Logger)
	shareHandler := NewShareHandler(deps.Engine, deps.Logger)
	activityHandler := NewActivityHandler(deps.Engine, deps.Logger)
	adminHandler := NewAdminHandler(deps.Engine, deps.Logger)

	api := router.Group("/api")
	api.Use(identify(deps.Engine, deps.Server, deps.Logger))
	{
		api.GET("/me", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "user": currentUser(c), "is_admin": c.GetBool(adminKey)})
		})

		files := api.Group("/files")
		{
			files.GET("", fileHandler.List)
			files.GET("/info", fileHandler.Info)
			files.GET("/download", fileHandler.Download)
			files.POST("/folder", fileHandler.CreateFolder)
			files.PUT("/rename", fileHandler.Rename)
			files.PUT("/move", fileHandler.Move)
			files.DELETE("/delete", fileHandler.Delete)
			files.DELETE("/batch-delete", fileHandler.BatchDelete)
			files.POST("/upload", fileHandler.Upload)
		}

		api.GET("/search", fileHandler.Search)
		api.GET("/quota", fileHandler.Quota)
		api.POST("/quota/recalculate", fileHandler.RecalculateQuota)

		uploads := api.Group("/uploads")
		{
			uploads.POST("", uploadHandler.Begin)
			uploads.GET("/:id", uploadHandler.Status)
			uploads.PUT("/:id/chunks/:index", uploadHandler.PutChunk)
			uploads.POST("/:id/complete", uploadHandler.Complete)
			uploads.DELETE("/:id", uploadHandler.Abort)
		}

		trash := api.Group("/trash")
		{
			trash.GET("", trashHandler.List)
			trash.POST("/restore", trashHandler.Restore)
			trash.DELETE("/purge", trashHandler.Purge)
			trash.DELETE("", trashHandler.Empty)
		}

		shares := api.Group("/shares")
		{
			shares.GET("", shareHandler.Incoming)
			shares.GET("/owned", shareHandler.Outgoing)
			shares.POST("", shareHandler.Create)
			shares.PUT("/:id", shareHandler.Update)
			shares.DELETE("/:id", shareHandler.Delete)
		}

		api.GET("/starred", activityHandler.Starred)
		api.POST("/starred/toggle", activityHandler.ToggleStar)
		api.GET("/recents", activityHandler.Recents)
		api.GET("/notifications", activityHandler.Notifications)
		api.POST("/notifications/:id/read", activityHandler.MarkRead)

		admin := api.Group("/admin")
		admin.Use(requireAdmin())
		{
			admin.GET("/stats", adminHandler.Stats)
			admin.GET("/users", adminHandler.Users)
			admin.PUT("/users/:username/quota", adminHandler.SetQuota)
			admin.POST("/users/:username/recalculate", adminHandler.Recalculate)
			admin.POST("/reconcile", adminHandler.ReconcileAll)
		}
	}

	return router
}
