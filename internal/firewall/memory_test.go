package firewall

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapter(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter(rule("1.2.3.4:22"), rule("1.2.3.4:22"))

	require.NoError(t, m.Add(ctx, rule("5.6.7.8:22")))
	require.NoError(t, m.Add(ctx, rule("5.6.7.8:22")))
	assert.Equal(t, []Rule{rule("5.6.7.8:22"), rule("1.2.3.4:22"), rule("1.2.3.4:22")}, m.Rules())

	require.NoError(t, m.Remove(ctx, rule("1.2.3.4:22")))
	require.NoError(t, m.Remove(ctx, rule("1.2.3.4:22")))
	assert.Equal(t, []Rule{rule("5.6.7.8:22")}, m.Rules())

	assert.Equal(t, []Call{
		{Op: "add", Rule: rule("5.6.7.8:22")},
		{Op: "add", Rule: rule("5.6.7.8:22")},
		{Op: "remove", Rule: rule("1.2.3.4:22")},
		{Op: "remove", Rule: rule("1.2.3.4:22")},
	}, m.Calls())
	assert.Equal(t, 1, m.MaxConcurrentMutations())
}

func TestMemoryAdapter_Failures(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter(rule("1.2.3.4:22"))
	boom := errors.New("boom")

	m.AddErr[rule("5.6.7.8:22")] = boom
	m.RemoveErr[rule("1.2.3.4:22")] = boom

	assert.ErrorIs(t, m.Add(ctx, rule("5.6.7.8:22")), boom)
	assert.ErrorIs(t, m.Remove(ctx, rule("1.2.3.4:22")), boom)
	assert.Equal(t, []Rule{rule("1.2.3.4:22")}, m.Rules())

	m.ListErr = boom
	_, err := m.ListTagged(ctx)
	assert.ErrorIs(t, err, boom)
}
