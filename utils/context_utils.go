package utils

import (
	"time"

	"golang.org/x/net/context"
)

// CheckContextDone checks if a provided context has indicated it is done, and returns a boolean indicating if it is.
func CheckContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// WithOptionalTimeout derives a cancellable context from the parent, bounded by the given timeout when it is
// positive. A zero or negative timeout means no deadline.
func WithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
