//go:build linux
// +build linux

package firewall

import (
	"sync"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a mock implementation of NFTablesConn for testing.
// Calls are recorded through mock.Mock; unless an expectation returns
// explicit values, the mock keeps tables, chains and rules in memory and
// hands out rule handles the way the kernel would.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	// In-memory state for tracking operations
	tables     map[string]*nftables.Table
	chains     map[string]*nftables.Chain
	rules      map[string][]*nftables.Rule
	nextHandle uint64
}

// NewMockNFTablesConn creates a new mock nftables connection.
func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{
		tables: make(map[string]*nftables.Table),
		chains: make(map[string]*nftables.Chain),
		rules:  make(map[string][]*nftables.Rule),
	}
}

func chainKey(t *nftables.Table, c string) string {
	return t.Name + "/" + c
}

func (m *MockNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	m.tables[t.Name] = t
	return t
}

func (m *MockNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	m.chains[chainKey(c.Table, c.Name)] = c
	return c
}

func (m *MockNFTablesConn) ListChainsOfTableFamily(family nftables.TableFamily) ([]*nftables.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(family)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Chain), args.Error(1)
	}
	var chains []*nftables.Chain
	for _, c := range m.chains {
		if c.Table.Family == family {
			chains = append(chains, c)
		}
	}
	return chains, args.Error(1)
}

func (m *MockNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(t, c)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Rule), args.Error(1)
	}
	return append([]*nftables.Rule(nil), m.rules[chainKey(t, c.Name)]...), args.Error(1)
}

func (m *MockNFTablesConn) InsertRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.nextHandle++
	stored := *r
	stored.Handle = m.nextHandle
	key := chainKey(r.Table, r.Chain.Name)
	m.rules[key] = append([]*nftables.Rule{&stored}, m.rules[key]...)
	return r
}

func (m *MockNFTablesConn) DelRule(r *nftables.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(r)
	if err := args.Error(0); err != nil {
		return err
	}
	key := chainKey(r.Table, r.Chain.Name)
	kept := m.rules[key][:0]
	for _, existing := range m.rules[key] {
		if existing.Handle != r.Handle {
			kept = append(kept, existing)
		}
	}
	m.rules[key] = kept
	return nil
}

func (m *MockNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	return args.Error(0)
}

// GetRuleCount returns the total number of rules.
func (m *MockNFTablesConn) GetRuleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rules := range m.rules {
		count += len(rules)
	}
	return count
}
