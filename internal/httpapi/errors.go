package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"drive-go/internal/drive"
)

// statusFor maps an error category onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case drive.CodeValidationError:
		return http.StatusBadRequest
	case drive.CodeAccessDenied:
		return http.StatusForbidden
	case drive.CodeFileNotFound:
		return http.StatusNotFound
	case drive.CodeFileExists:
		return http.StatusConflict
	case drive.CodeQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case drive.CodeDiskFull:
		return http.StatusInsufficientStorage
	case drive.CodeConnectivityError:
		return http.StatusServiceUnavailable
	case drive.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes the classified error. The raw error never reaches the
// client.
func respondError(c *gin.Context, err error) {
	cat := drive.Classify(err)
	c.JSON(statusFor(cat.Code), gin.H{
		"success":   false,
		"error":     cat.Message,
		"code":      cat.Code,
		"can_retry": cat.CanRetry,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg, "code": drive.CodeValidationError, "can_retry": false})
}

// checkAccess checks access to absolute users/... paths, which may belong
// to another user. Relative paths always stay inside the caller's own drive.
func checkAccess(engine *drive.Engine, u *drive.User, logical string, level drive.AccessLevel) error {
	if !strings.HasPrefix(logical, "users/") {
		return nil
	}
	abs, err := drive.ValidateAbsolute(logical)
	if err != nil {
		return err
	}
	ok, err := engine.Shares().HasAccess(u, abs, level)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", logical, drive.ErrAccessDenied)
	}
	return nil
}

// authorize writes the error response and returns false when the current
// user may not use logical at level.
func authorize(c *gin.Context, engine *drive.Engine, logical string, level drive.AccessLevel) bool {
	if err := checkAccess(engine, currentUser(c), logical, level); err != nil {
		respondError(c, err)
		return false
	}
	return true
}
