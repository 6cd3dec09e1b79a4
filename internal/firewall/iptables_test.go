package firewall

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ddnsfw/internal/logging"
)

const testBin = "/sbin/iptables"

func newTestIPTables(t *testing.T) (*IPTablesAdapter, *MockCommandRunner) {
	t.Helper()
	runner := &MockCommandRunner{}
	a, err := NewIPTablesAdapter(IPTablesOptions{
		Binary:   testBin,
		Chain:    "INPUT",
		Protocol: "tcp",
		Runner:   runner,
		Retry: &RetryConfig{
			MaxAttempts:     2,
			InitialDelay:    time.Millisecond,
			MaxDelay:        time.Millisecond,
			BackoffFactor:   1,
			RetryableErrors: []error{ErrTemporary},
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	return a, runner
}

// ruleCall builds the mock arguments for a -C, -I or -D invocation.
func ruleCall(op, r string, extra ...string) []interface{} {
	parsed := rule(r)
	args := []interface{}{testBin, "-w", "5", op, "INPUT"}
	for _, e := range extra {
		args = append(args, e)
	}
	return append(args,
		"-s", parsed.IP.String()+"/32",
		"-p", "tcp",
		"-m", "tcp",
		"--dport", strconv.Itoa(parsed.Port),
		"-m", "comment",
		"--comment", "DDNS-ACCESS",
		"-j", "ACCEPT",
	)
}

func exitErr(code int) error {
	return &CommandError{Name: testBin, ExitCode: code, Err: errors.New("exit status")}
}

func TestIPTables_ListTagged(t *testing.T) {
	a, runner := newTestIPTables(t)

	listing := `-P INPUT DROP
-A INPUT -m conntrack --ctstate RELATED,ESTABLISHED -j ACCEPT
-A INPUT -s 1.2.3.4/32 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS -j ACCEPT
-A INPUT -s 5.6.7.8/32 -p tcp -m tcp --dport 2222 -m comment --comment "DDNS-ACCESS" -j ACCEPT
-A INPUT -s 9.9.9.9/32 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS-OLD -j ACCEPT
-A INPUT -s 9.9.9.9/32 -p tcp -m tcp --dport 22 -m comment --comment "not DDNS-ACCESS" -j ACCEPT
-A INPUT -s 10.0.0.0/8 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS -j ACCEPT
-A INPUT -s 1.2.3.4/32 -p udp -m udp --dport 22 -m comment --comment DDNS-ACCESS -j ACCEPT
-A INPUT -s 1.2.3.4/32 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS -j DROP
-A INPUT ! -s 1.2.3.4/32 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS -j ACCEPT
-A FORWARD -s 1.2.3.4/32 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS -j ACCEPT
-A INPUT -s 1.2.3.4/32 -p tcp -m tcp --dport 22 -m comment --comment DDNS-ACCESS -j ACCEPT
`
	runner.On("Output", testBin, "-w", "5", "-S", "INPUT").Return([]byte(listing), nil)

	rules, err := a.ListTagged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Rule{rule("1.2.3.4:22"), rule("5.6.7.8:2222"), rule("1.2.3.4:22")}, rules)
}

func TestIPTables_ListTagged_Error(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Output", testBin, "-w", "5", "-S", "INPUT").Return(nil, exitErr(1))

	_, err := a.ListTagged(context.Background())
	assert.Error(t, err)
}

func TestIPTables_Add_Inserts(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-C", "1.2.3.4:22")...).Return(exitErr(1))
	runner.On("Run", ruleCall("-I", "1.2.3.4:22", "1")...).Return(nil)

	require.NoError(t, a.Add(context.Background(), rule("1.2.3.4:22")))
	runner.AssertExpectations(t)
}

func TestIPTables_Add_ExistingIsSuccess(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-C", "1.2.3.4:22")...).Return(nil)

	require.NoError(t, a.Add(context.Background(), rule("1.2.3.4:22")))
	runner.AssertNotCalled(t, "Run", ruleCall("-I", "1.2.3.4:22", "1")...)
}

func TestIPTables_Add_RetriesLockContentionOnce(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-C", "1.2.3.4:22")...).Return(exitErr(1))
	runner.On("Run", ruleCall("-I", "1.2.3.4:22", "1")...).Return(exitErr(4)).Once()
	runner.On("Run", ruleCall("-I", "1.2.3.4:22", "1")...).Return(nil).Once()

	require.NoError(t, a.Add(context.Background(), rule("1.2.3.4:22")))
	runner.AssertNumberOfCalls(t, "Run", 4)
}

func TestIPTables_Add_PermanentFailure(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-C", "1.2.3.4:22")...).Return(exitErr(1))
	runner.On("Run", ruleCall("-I", "1.2.3.4:22", "1")...).Return(exitErr(2))

	err := a.Add(context.Background(), rule("1.2.3.4:22"))
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
	runner.AssertNumberOfCalls(t, "Run", 2)
}

func TestIPTables_Remove_DeletesDuplicates(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-D", "1.2.3.4:22")...).Return(nil).Twice()
	runner.On("Run", ruleCall("-D", "1.2.3.4:22")...).Return(exitErr(1)).Once()

	require.NoError(t, a.Remove(context.Background(), rule("1.2.3.4:22")))
	runner.AssertNumberOfCalls(t, "Run", 3)
}

func TestIPTables_Remove_AbsentIsSuccess(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-D", "1.2.3.4:22")...).Return(exitErr(1))

	require.NoError(t, a.Remove(context.Background(), rule("1.2.3.4:22")))
}

func TestIPTables_Remove_Failure(t *testing.T) {
	a, runner := newTestIPTables(t)
	runner.On("Run", ruleCall("-D", "1.2.3.4:22")...).Return(exitErr(2))

	assert.Error(t, a.Remove(context.Background(), rule("1.2.3.4:22")))
}

func TestFindIPTables(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	notExec := filepath.Join(dir, "plain")
	bin := filepath.Join(dir, "iptables")
	require.NoError(t, os.WriteFile(notExec, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	old := IPTablesPaths
	t.Cleanup(func() { IPTablesPaths = old })

	IPTablesPaths = []string{missing, notExec, bin}
	got, err := FindIPTables()
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	IPTablesPaths = []string{missing}
	_, err = FindIPTables()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSplitRuleLine(t *testing.T) {
	assert.Equal(t,
		[]string{"-A", "INPUT", "--comment", "two words", "-j", "ACCEPT"},
		splitRuleLine(`-A INPUT --comment "two words" -j ACCEPT`))
	assert.Equal(t,
		[]string{"--comment", `say "hi"`},
		splitRuleLine(`--comment "say \"hi\""`))
}
