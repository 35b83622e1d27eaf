package application

import (
	"context"
	"errors"
	"time"
)

// requestContext bounds a single backend round trip. A zero timeout means none.
func requestContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func isStalled(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
