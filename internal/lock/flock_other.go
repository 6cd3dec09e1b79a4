//go:build !unix

package lock

import (
	"context"
	"errors"
	"time"
)

// Acquire is unsupported on this platform.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	return nil, errors.New("file locking is not supported on this platform")
}

// Release is a no-op on this platform.
func (l *Lock) Release() error {
	return nil
}
