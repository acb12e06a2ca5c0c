// Package ruletable wraps the kernel packet-filter rule table tools
// (iptables/ip6tables) behind a narrow, mockable client interface.
//
// Every rule created through this package carries an owner comment with
// the warden tag prefix. Removal and counting select exclusively by that
// tag, so rules owned by Docker or anything else are never touched.
package ruletable

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner abstracts external command execution.
// All invocations take a context so a hung tool cannot wedge the caller.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

// RealRunner executes actual commands.
type RealRunner struct{}

// Run executes a command, returning combined output in the error on failure.
func (r *RealRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
	}
	return nil
}

// Output executes a command and returns its stdout.
func (r *RealRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// LookPath reports where a tool binary resolves on this host.
func (r *RealRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// DefaultRunner is the default command runner.
var DefaultRunner Runner = &RealRunner{}
