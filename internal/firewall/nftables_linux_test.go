//go:build linux
// +build linux

package firewall

import (
	"context"
	"errors"
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/ddnsfw/internal/logging"
)

func newTestNFTables(t *testing.T, conn *MockNFTablesConn) *NFTablesAdapter {
	t.Helper()
	conn.On("ListChainsOfTableFamily", nftables.TableFamilyINet).Return(nil, nil)
	conn.On("AddTable", mock.AnythingOfType("*nftables.Table"))
	conn.On("AddChain", mock.AnythingOfType("*nftables.Chain"))
	conn.On("GetRules", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("InsertRule", mock.AnythingOfType("*nftables.Rule"))
	conn.On("DelRule", mock.AnythingOfType("*nftables.Rule")).Return(nil)
	conn.On("Flush").Return(nil)

	a, err := NewNFTablesAdapter(NFTablesOptions{
		Table:    "ddnsfw",
		Chain:    "input",
		Family:   "inet",
		Protocol: "tcp",
		Conn:     conn,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return a
}

func TestNFTables_CreatesChainOnce(t *testing.T) {
	conn := NewMockNFTablesConn()
	a := newTestNFTables(t, conn)
	ctx := context.Background()

	_, err := a.ListTagged(ctx)
	require.NoError(t, err)
	_, err = a.ListTagged(ctx)
	require.NoError(t, err)

	conn.AssertNumberOfCalls(t, "AddTable", 1)
	conn.AssertNumberOfCalls(t, "AddChain", 1)

	chain := conn.chains["ddnsfw/input"]
	require.NotNil(t, chain)
	assert.Equal(t, nftables.ChainHookInput, chain.Hooknum)
	require.NotNil(t, chain.Policy)
	assert.Equal(t, nftables.ChainPolicyAccept, *chain.Policy)
}

func TestNFTables_UsesExistingChain(t *testing.T) {
	conn := NewMockNFTablesConn()
	table := &nftables.Table{Name: "filter", Family: nftables.TableFamilyINet}
	existing := &nftables.Chain{Name: "input", Table: table}
	conn.On("ListChainsOfTableFamily", nftables.TableFamilyINet).Return([]*nftables.Chain{existing}, nil)
	conn.On("GetRules", table, existing).Return(nil, nil)

	a, err := NewNFTablesAdapter(NFTablesOptions{Table: "filter", Chain: "input", Conn: conn, Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = a.ListTagged(context.Background())
	require.NoError(t, err)
	conn.AssertNotCalled(t, "AddTable", mock.Anything)
}

func TestNFTables_AddListRemove(t *testing.T) {
	conn := NewMockNFTablesConn()
	a := newTestNFTables(t, conn)
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, rule("1.2.3.4:22")))
	require.NoError(t, a.Add(ctx, rule("5.6.7.8:2222")))
	require.NoError(t, a.Add(ctx, rule("1.2.3.4:22")), "adding an existing rule succeeds")
	assert.Equal(t, 2, conn.GetRuleCount())
	conn.AssertNumberOfCalls(t, "InsertRule", 2)

	rules, err := a.ListTagged(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Rule{rule("1.2.3.4:22"), rule("5.6.7.8:2222")}, rules)

	require.NoError(t, a.Remove(ctx, rule("1.2.3.4:22")))
	require.NoError(t, a.Remove(ctx, rule("1.2.3.4:22")), "removing an absent rule succeeds")
	conn.AssertNumberOfCalls(t, "DelRule", 1)

	rules, err = a.ListTagged(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Rule{rule("5.6.7.8:2222")}, rules)
}

func TestNFTables_IgnoresForeignRules(t *testing.T) {
	conn := NewMockNFTablesConn()
	a := newTestNFTables(t, conn)
	ctx := context.Background()
	require.NoError(t, a.Add(ctx, rule("1.2.3.4:22")))

	managed := a.ruleExprs(rule("9.9.9.9:22"))
	foreign := []*nftables.Rule{
		// Right shape, wrong tag.
		{Table: a.table, Chain: a.chain, Exprs: managed, UserData: []byte("someone-else")},
		// Right tag, drop verdict.
		{Table: a.table, Chain: a.chain, UserData: []byte(Tag), Exprs: append(append([]expr.Any{}, managed[:len(managed)-1]...), &expr.Verdict{Kind: expr.VerdictDrop})},
		// Right tag, no port match.
		{Table: a.table, Chain: a.chain, UserData: []byte(Tag), Exprs: append(append([]expr.Any{}, managed[:6]...), &expr.Verdict{Kind: expr.VerdictAccept})},
	}
	key := chainKey(a.table, a.chain.Name)
	conn.rules[key] = append(conn.rules[key], foreign...)

	rules, err := a.ListTagged(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Rule{rule("1.2.3.4:22")}, rules)
}

func TestNFTables_Unavailable(t *testing.T) {
	conn := NewMockNFTablesConn()
	conn.On("ListChainsOfTableFamily", nftables.TableFamilyINet).Return(nil, errors.New("operation not permitted"))

	a, err := NewNFTablesAdapter(NFTablesOptions{Conn: conn, Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = a.ListTagged(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDecodeRule_RoundTrip(t *testing.T) {
	a := &NFTablesAdapter{proto: 6}
	r := rule("203.0.113.7:51820")

	got, ok := decodeRule(a.ruleExprs(r), 6)
	require.True(t, ok)
	assert.Equal(t, r, got)

	_, ok = decodeRule(a.ruleExprs(r), 17)
	assert.False(t, ok, "protocol must match")
}
