package firewall

import (
	"fmt"

	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/logging"
)

// New builds the backend selected in settings.
func New(s *config.Settings, logger *logging.Logger) (Adapter, error) {
	switch s.Backend {
	case "", "iptables":
		return NewIPTablesAdapter(IPTablesOptions{
			Chain:    s.Chain,
			Protocol: s.Protocol,
			Logger:   logger,
		})
	case "nftables":
		return NewNFTablesAdapter(NFTablesOptions{
			Table:    s.Table,
			Chain:    s.Chain,
			Family:   s.Family,
			Protocol: s.Protocol,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", s.Backend)
	}
}
