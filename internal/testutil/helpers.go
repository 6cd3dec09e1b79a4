// Package testutil holds helpers shared by tests that need a real host.
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// IntegrationEnv enables tests that mutate the host firewall.
const IntegrationEnv = "DDNSFW_INTEGRATION_TEST"

// RequireIntegration skips the test unless IntegrationEnv is set and the test
// runs as root. Such tests change real kernel state, so they belong in a VM
// or a disposable container.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(IntegrationEnv) == "" {
		t.Skipf("Skipping test: set %s=1 to run against the host firewall", IntegrationEnv)
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}

// RequireBinary skips the test when name is not on PATH and returns its path.
func RequireBinary(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("Skipping test: %s not found", name)
	}
	return p
}
