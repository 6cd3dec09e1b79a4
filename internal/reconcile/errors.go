package reconcile

import (
	"errors"
	"fmt"

	"grimm.is/ddnsfw/internal/firewall"
)

var (
	// ErrConfigLimit is returned when a pass is given more entries than
	// config.MaxEntries. Nothing is resolved or touched.
	ErrConfigLimit = errors.New("entry limit exceeded")

	// ErrList wraps a failure to list the live tagged rules.
	ErrList = errors.New("failed to list firewall rules")

	// ErrRuleCeiling is returned when applying the adds would leave more
	// tagged rules live than allowed.
	ErrRuleCeiling = errors.New("rule ceiling exceeded")

	// ErrIterationCap is returned when the listing or the plan is larger
	// than any sane configuration can produce.
	ErrIterationCap = errors.New("iteration cap exceeded")

	// ErrCacheWrite wraps a failure to persist the state cache after the
	// firewall was reconciled.
	ErrCacheWrite = errors.New("failed to write state cache")
)

// AddError reports a failed add. It aborts the pass before any removal.
type AddError struct {
	Rule firewall.Rule
	Err  error
}

func (e *AddError) Error() string {
	return fmt.Sprintf("add %s: %v", e.Rule, e.Err)
}

func (e *AddError) Unwrap() error {
	return e.Err
}

// RemoveError reports a failed remove. The pass continues.
type RemoveError struct {
	Rule firewall.Rule
	Err  error
}

func (e *RemoveError) Error() string {
	return fmt.Sprintf("remove %s: %v", e.Rule, e.Err)
}

func (e *RemoveError) Unwrap() error {
	return e.Err
}
