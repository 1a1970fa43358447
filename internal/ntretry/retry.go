// Package ntretry provides Fibonacci-backoff retry and errno-based
// permanence classification, used by the blob store's filesystem
// operations.
package ntretry

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// Do executes task, retrying it with Fibonacci backoff up to maxRetries
// times (maxRetries+1 attempts in all) while it returns an error marked
// retryable (see Classify); any other error stops it at once. On
// failure, gaveUp is invoked (when not nil) and the final error is
// returned.
func Do(ctx context.Context, maxRetries uint64, task func(ctx context.Context) error, gaveUp func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUp != nil {
			gaveUp(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether err represents a transient condition worth
// retrying, as opposed to a permanent OS/filesystem failure.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.ENAMETOOLONG),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.ENOTEMPTY),
		errors.Is(err, syscall.EMLINK),
		errors.Is(err, syscall.ELOOP),
		errors.Is(err, syscall.EXDEV),
		errors.Is(err, syscall.EEXIST),
		errors.Is(err, syscall.EINVAL):
		return false
	}
	if strings.Contains(err.Error(), "read-only file system") {
		return false
	}
	return true
}

// Classify wraps err for use inside a Do task body: transient errors are
// marked retryable, fatal/permanent ones are returned as-is so retry.Do
// stops immediately.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if ShouldRetry(err) {
		return retry.RetryableError(err)
	}
	return err
}

// IsFatalStoreCondition reports whether err is the out-of-space/read-only
// condition that must abort a copy worker outright (spec §4.1/§7).
func IsFatalStoreCondition(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EROFS) ||
		strings.Contains(err.Error(), "read-only file system")
}
