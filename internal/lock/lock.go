// Package lock serializes reconciliation passes across processes.
//
// The lock is an advisory flock(2) on a well-known file. The kernel drops it
// when the holding process exits, so a crashed pass never wedges later ones.
// Acquire waits a bounded time and then gives up with ErrTimeout.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrTimeout is returned when another process still holds the lock after the
// wait bound elapsed.
var ErrTimeout = errors.New("lock is held by another process")

// PollInterval is how often a waiting Acquire retries the lock.
var PollInterval = 250 * time.Millisecond

// Lock is a held lock. The zero value is not usable.
type Lock struct {
	path string
	f    *os.File
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TimeoutError carries the PID recorded by the current holder, when known.
type TimeoutError struct {
	Path   string
	Waited time.Duration
	Holder int
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s after %s: %s", ErrTimeout, e.Waited, e.Path)
	if e.Holder > 0 {
		msg += fmt.Sprintf(" (held by pid %d)", e.Holder)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// HolderPID returns the PID written into the lock file by its last holder.
// The file content is informational only and may be stale.
func HolderPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
