//go:build !linux
// +build !linux

package firewall

import (
	"context"
	"fmt"

	"grimm.is/ddnsfw/internal/logging"
)

// NFTablesOptions configures an NFTablesAdapter.
type NFTablesOptions struct {
	Table    string
	Chain    string
	Family   string
	Protocol string
	Retry    *RetryConfig
	Logger   *logging.Logger
}

// NFTablesAdapter is unavailable off Linux.
type NFTablesAdapter struct{}

// NewNFTablesAdapter always fails off Linux.
func NewNFTablesAdapter(opts NFTablesOptions) (*NFTablesAdapter, error) {
	return nil, fmt.Errorf("%w: nftables requires linux", ErrUnavailable)
}

func (a *NFTablesAdapter) Name() string { return "nftables" }

func (a *NFTablesAdapter) ListTagged(ctx context.Context) ([]Rule, error) {
	return nil, ErrUnavailable
}

func (a *NFTablesAdapter) Add(ctx context.Context, r Rule) error { return ErrUnavailable }

func (a *NFTablesAdapter) Remove(ctx context.Context, r Rule) error { return ErrUnavailable }
