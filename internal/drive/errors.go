package drive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error kinds returned by the engine. Callers match them with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidPath    = errors.New("invalid path")
	ErrInvalidName    = errors.New("invalid name")
	ErrInvalidRequest = errors.New("invalid request")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrAccessDenied   = errors.New("access denied")
	ErrIOFailure      = errors.New("io failure")
)

// IOError is a filesystem failure. Retryable is set for connectivity and
// timeout conditions; disk-full and permission failures are not retryable.
type IOError struct {
	Op        string
	Path      string
	Retryable bool
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes every IOError match ErrIOFailure.
func (e *IOError) Is(target error) bool { return target == ErrIOFailure }

// ioFailure wraps a filesystem error. Missing and existing targets are mapped
// onto ErrNotFound and ErrAlreadyExists so callers see the domain kind.
func ioFailure(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrIOFailure):
		return err
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrAlreadyExists)
	}
	return &IOError{Op: op, Path: path, Retryable: isTimeout(err) || isConnectivity(err), Err: err}
}

// Category is the user-facing classification of an error. Message never
// contains raw filesystem text.
type Category struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	CanRetry bool   `json:"can_retry"`
}

// Category codes.
const (
	CodeDiskFull          = "DISK_FULL"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeFileExists        = "FILE_EXISTS"
	CodeConnectivityError = "CONNECTIVITY_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeUnknownError      = "UNKNOWN_ERROR"
)

// Classify maps any error produced by the engine onto a stable category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return Category{}
	case errors.Is(err, ErrQuotaExceeded):
		return Category{CodeQuotaExceeded, "Storage quota exceeded. Free up space or ask for a larger quota.", false}
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidRequest):
		return Category{CodeValidationError, "The request contains an invalid name or path.", false}
	case errors.Is(err, ErrAccessDenied):
		return Category{CodeAccessDenied, "You do not have access to this item.", false}
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, os.ErrExist):
		return Category{CodeFileExists, "An item with this name already exists.", false}
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return Category{CodeFileNotFound, "The file or folder could not be found.", false}
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return Category{CodeDiskFull, "The storage volume is full. Please try again later or contact an administrator.", false}
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EROFS):
		return Category{CodePermissionDenied, "The server is not permitted to perform this operation.", false}
	case isTimeout(err):
		return Category{CodeTimeout, "The operation timed out. Please try again.", true}
	case isConnectivity(err):
		return Category{CodeConnectivityError, "The storage volume is temporarily unreachable. Please try again.", true}
	}
	return Category{CodeUnknownError, "An unexpected error occurred.", false}
}

// Retryable reports whether retrying the failed operation could succeed.
func Retryable(err error) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Retryable
	}
	return Classify(err).CanRetry
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectivity(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ENETDOWN,
		syscall.ESTALE, syscall.EIO, syscall.EAGAIN, syscall.EBUSY,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
