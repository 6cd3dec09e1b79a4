package firewall

import (
	"context"
	"errors"
)

// Adapter is the capability the reconciler needs from a firewall backend.
//
// ListTagged returns only rules carrying Tag, in chain order; a rule present
// more than once is listed more than once. Add and Remove are idempotent: adding
// a rule that exists, or removing one that does not, is a success.
type Adapter interface {
	Name() string
	ListTagged(ctx context.Context) ([]Rule, error)
	Add(ctx context.Context, r Rule) error
	Remove(ctx context.Context, r Rule) error
}

// ErrUnavailable reports that the backend cannot be used on this host.
var ErrUnavailable = errors.New("firewall backend unavailable")

// CommandRunner abstracts command execution.
// Used by IPTablesAdapter for iptables invocations.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual commands.
type RealCommandRunner struct{}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}
