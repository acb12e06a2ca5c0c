package ruletable

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cloisterhq/warden/internal/logging"
)

// Client is the narrow interface the rule engine drives.
// Implementations exist per address family (iptables, ip6tables).
type Client interface {
	// Available reports whether the underlying tool exists on this host.
	Available() bool
	// EnsureChain creates the chain if it does not exist.
	EnsureChain(ctx context.Context, chain string) error
	// Insert places the rule at its position (top-first semantics).
	Insert(ctx context.Context, r Rule) error
	// Append places the rule at the end of its chain.
	Append(ctx context.Context, r Rule) error
	// List returns the chain's rules in iptables-save syntax.
	List(ctx context.Context, chain string) ([]string, error)
	// DeleteTagged removes every rule in the chain carrying the warden
	// owner tag and returns how many were removed.
	DeleteTagged(ctx context.Context, chain string) (int, error)
	// CountTagged counts rules in the chain carrying the warden owner tag.
	CountTagged(ctx context.Context, chain string) (int, error)
}

// ExecClient drives one rule table tool binary through a Runner.
type ExecClient struct {
	bin     string
	runner  Runner
	timeout time.Duration
	log     *logging.Logger
}

// NewExecClient returns a client for the given tool binary
// ("iptables" or "ip6tables").
func NewExecClient(bin string, runner Runner, timeout time.Duration) *ExecClient {
	if runner == nil {
		runner = DefaultRunner
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecClient{
		bin:     bin,
		runner:  runner,
		timeout: timeout,
		log:     logging.WithComponent("ruletable"),
	}
}

func (c *ExecClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Available reports whether the tool binary resolves in PATH.
func (c *ExecClient) Available() bool {
	_, err := c.runner.LookPath(c.bin)
	return err == nil
}

// EnsureChain creates the chain if missing. Docker normally creates the
// forwarding chain itself; creation here covers hosts where it has not yet.
func (c *ExecClient) EnsureChain(ctx context.Context, chain string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.runner.Output(ctx, c.bin, "-S", chain); err == nil {
		return nil
	}
	if err := c.runner.Run(ctx, c.bin, "-N", chain); err != nil {
		return fmt.Errorf("create chain %s: %w", chain, err)
	}
	c.log.Info("created chain", "tool", c.bin, "chain", chain)
	return nil
}

// Insert places the rule at its position.
func (c *ExecClient) Insert(ctx context.Context, r Rule) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.runner.Run(ctx, c.bin, r.insertArgs()...); err != nil {
		return fmt.Errorf("insert rule %s: %w", r.Tag, err)
	}
	return nil
}

// Append places the rule at the end of its chain.
func (c *ExecClient) Append(ctx context.Context, r Rule) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.runner.Run(ctx, c.bin, r.appendArgs()...); err != nil {
		return fmt.Errorf("append rule %s: %w", r.Tag, err)
	}
	return nil
}

// List returns the chain's rules in iptables-save syntax, one per line.
// A missing chain yields an empty list; any other failure (permission,
// timeout, hung tool) is propagated. Callers that count or delete by tag
// must never mistake an unreadable table for an empty one.
func (c *ExecClient) List(ctx context.Context, chain string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.runner.Output(ctx, c.bin, "-S", chain)
	if err != nil {
		if isMissingChain(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list chain %s: %w", chain, err)
	}
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// DeleteTagged removes every warden-owned rule from the chain.
// Selection is by owner comment only; position is never trusted, so
// unrelated rules added concurrently are left alone.
func (c *ExecClient) DeleteTagged(ctx context.Context, chain string) (int, error) {
	lines, err := c.List(ctx, chain)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, line := range lines {
		if !isTagged(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "-A" {
			continue
		}
		args := append([]string{"-D", chain}, unquote(fields[2:])...)

		dctx, cancel := c.withTimeout(ctx)
		err := c.runner.Run(dctx, c.bin, args...)
		cancel()
		if err != nil {
			return removed, fmt.Errorf("delete tagged rule: %w", err)
		}
		removed++
	}
	return removed, nil
}

// CountTagged counts warden-owned rules in the chain.
func (c *ExecClient) CountTagged(ctx context.Context, chain string) (int, error) {
	lines, err := c.List(ctx, chain)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, line := range lines {
		if isTagged(line) {
			n++
		}
	}
	return n, nil
}

// isMissingChain reports whether a -S failure means the chain does not
// exist, as opposed to the table being unreadable. Both the legacy and
// nf_tables iptables binaries report a missing chain on stderr.
func isMissingChain(err error) bool {
	msg := err.Error()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg += " " + string(exitErr.Stderr)
	}
	return strings.Contains(msg, "No chain/target/match by that name") ||
		strings.Contains(msg, "does not exist")
}

// isTagged reports whether an iptables-save line carries the owner tag.
func isTagged(line string) bool {
	return strings.Contains(line, "--comment "+TagPrefix) ||
		strings.Contains(line, `--comment "`+TagPrefix)
}

// unquote strips iptables-save quoting from comment tokens so the fields
// can be fed back as delete arguments.
func unquote(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.Trim(f, `"`)
	}
	return out
}
