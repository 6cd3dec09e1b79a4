// Package clock provides a mockable time source.
//
// Pass timestamps (cache updated_at, journal rows, metrics) are taken from a
// Clock so tests can pin them. Production code uses Real.
package clock

import (
	"sync"
	"time"
)

// Clock is the interface for time operations.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Real is the shared system clock.
var Real Clock = RealClock{}

// RealClock provides the actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a test clock with controllable time.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set sets the mock time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the mock time forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real
	}
	return c
}

// Now returns the current system time.
func Now() time.Time {
	return time.Now()
}
