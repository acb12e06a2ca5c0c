package testutil

import (
	"os"
	"testing"
)

// RequireHost skips the test unless WARDEN_HOST_TEST is set.
// Tests that mutate real iptables chains or talk to a live Docker daemon
// must only run in a disposable host environment.
func RequireHost(t *testing.T) {
	t.Helper()
	if os.Getenv("WARDEN_HOST_TEST") == "" {
		t.Skip("Skipping test: requires WARDEN_HOST_TEST environment")
	}
}

// RequireRoot skips the test unless running with euid 0.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
