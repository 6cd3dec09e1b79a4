package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError carries the exit status of a failed command so callers can
// tell "rule does not exist" apart from real failures.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s failed", e.Name, strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status carried by err, or -1.
func ExitCode(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// Run executes a command without capturing output.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return commandError(name, args, out, err)
	}
	return nil
}

// Output executes a command and returns its standard output.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(name, args, stderr.Bytes(), err)
	}
	return out, nil
}

func commandError(name string, args []string, out []byte, err error) error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{Name: name, Args: args, ExitCode: code, Output: string(out), Err: err}
}
