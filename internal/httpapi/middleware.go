package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"drive-go/internal/config"
	"drive-go/internal/drive"
	"drive-go/internal/metrics"
)

const (
	userKey  = "user"
	adminKey = "isAdmin"

	displayNameHeader = "X-Remote-Name"
	emailHeader       = "X-Remote-Email"
)

// identify trusts the username set by the authenticating proxy in front of
// the server. The account is created on first sight.
func identify(engine *drive.Engine, cfg config.ServerConfig, logger drive.Logger) gin.HandlerFunc {
	header := cfg.IdentityHeader
	if header == "" {
		header = "X-Remote-User"
	}
	return func(c *gin.Context) {
		username := c.GetHeader(header)
		if username == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
			c.Abort()
			return
		}

		u, err := engine.EnsureUser(c.Request.Context(), drive.Identity{
			Username:    username,
			DisplayName: c.GetHeader(displayNameHeader),
			Email:       c.GetHeader(emailHeader),
		})
		if err != nil {
			logger.Error("resolving user failed", "username", username, "error", err)
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(userKey, u)
		c.Set(adminKey, u.IsAdmin || slices.Contains(cfg.AdminUsers, u.Username))
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(adminKey) {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Administrator access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *drive.User {
	return c.MustGet(userKey).(*drive.User)
}

func requestLogger(logger drive.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if u, ok := c.Get(userKey); ok {
			args = append(args, "user", u.(*drive.User).Username)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", args...)
			return
		}
		logger.Debug("request", args...)
	}
}

func instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		done := m.RequestStarted(c.Request.Method, route)
		c.Next()
		done(c.Writer.Status())
	}
}
