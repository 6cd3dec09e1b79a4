package firewall

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Call records one mutation made through a MemoryAdapter.
type Call struct {
	Op   string // "add" or "remove"
	Rule Rule
}

// MemoryAdapter is an in-process firewall for tests and dry runs. It keeps
// rules in chain order, allows duplicates the way a real chain does, and can
// be told to fail specific operations.
type MemoryAdapter struct {
	mu    sync.Mutex
	rules []Rule
	calls []Call

	// Failure injection. Checked before the operation takes effect.
	ListErr    error
	AddErr     map[Rule]error
	RemoveErr  map[Rule]error
	MutateWait time.Duration // held inside Add/Remove, to widen overlap windows

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewMemoryAdapter creates an adapter holding rules in the given order.
func NewMemoryAdapter(rules ...Rule) *MemoryAdapter {
	return &MemoryAdapter{
		rules:     append([]Rule(nil), rules...),
		AddErr:    make(map[Rule]error),
		RemoveErr: make(map[Rule]error),
	}
}

// Name implements Adapter.
func (m *MemoryAdapter) Name() string {
	return "memory"
}

// ListTagged implements Adapter.
func (m *MemoryAdapter) ListTagged(ctx context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]Rule(nil), m.rules...), nil
}

// Add implements Adapter. New rules go to the head of the chain.
func (m *MemoryAdapter) Add(ctx context.Context, r Rule) error {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "add", Rule: r})
	if err := m.AddErr[r]; err != nil {
		return err
	}
	for _, existing := range m.rules {
		if existing == r {
			return nil
		}
	}
	m.rules = append([]Rule{r}, m.rules...)
	return nil
}

// Remove implements Adapter. Every copy of r is removed.
func (m *MemoryAdapter) Remove(ctx context.Context, r Rule) error {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "remove", Rule: r})
	if err := m.RemoveErr[r]; err != nil {
		return err
	}
	kept := m.rules[:0]
	for _, existing := range m.rules {
		if existing != r {
			kept = append(kept, existing)
		}
	}
	m.rules = kept
	return nil
}

// enter tracks concurrent mutations and returns the matching exit.
func (m *MemoryAdapter) enter() func() {
	n := m.inFlight.Add(1)
	for {
		peak := m.maxInFlight.Load()
		if n <= peak || m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if m.MutateWait > 0 {
		time.Sleep(m.MutateWait)
	}
	return func() { m.inFlight.Add(-1) }
}

// Rules returns the live rules in chain order.
func (m *MemoryAdapter) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.rules...)
}

// Calls returns every mutation attempted, in order.
func (m *MemoryAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// ResetCalls clears the call log.
func (m *MemoryAdapter) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MaxConcurrentMutations reports the most Add/Remove calls seen in flight at once.
func (m *MemoryAdapter) MaxConcurrentMutations() int {
	return int(m.maxInFlight.Load())
}
