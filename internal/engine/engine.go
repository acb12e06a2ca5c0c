// Package engine computes and applies the ordered rule set for a target
// mode against the IPv4 and, conditionally, IPv6 rule tables, plus the
// separate DMZ isolation policy.
//
// Every apply removes warden-owned rules before inserting, so re-running
// an apply is idempotent: same mode in, same rule set out, no duplicates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/logging"
	"github.com/cloisterhq/warden/internal/ruletable"
	"github.com/cloisterhq/warden/internal/topology"
)

var (
	// ErrIPv6Parity means the host has globally routable IPv6 but the
	// IPv6 rule table tool is unavailable. Applying an IPv4-only policy
	// would leave IPv6 egress silently open, so the apply is refused
	// outright, never downgraded to a warning.
	ErrIPv6Parity = errors.New("IPv6 is active on this host but ip6tables is unavailable; refusing to apply an IPv4-only policy (install ip6tables or disable IPv6)")

	// ErrTopologyUnresolved means no protected subnet could be
	// determined, not even the fallback.
	ErrTopologyUnresolved = errors.New("could not determine any protected subnet")
)

// Counts reports warden-owned rules per group.
type Counts struct {
	V4  int `json:"ipv4_rules"`
	V6  int `json:"ipv6_rules"`
	DMZ int `json:"dmz_rules"`
}

// Expected rule counts per family in sovereign mode: established +
// loopback + private ranges (3 v4, 1 v6 ULA) + final drop.
const (
	SovereignV4Rules = 6
	SovereignV6Rules = 4
)

// Engine applies policy through per-family rule table clients.
type Engine struct {
	cfg *config.Config
	v4  ruletable.Client
	v6  ruletable.Client
	log *logging.Logger
}

// New returns an Engine driving the given clients.
func New(cfg *config.Config, v4, v6 ruletable.Client) *Engine {
	return &Engine{
		cfg: cfg,
		v4:  v4,
		v6:  v6,
		log: logging.WithComponent("engine"),
	}
}

// ApplySovereign installs the fail-closed egress policy for the detected
// topology. Nothing is mutated until the IPv6 parity contract is checked.
func (e *Engine) ApplySovereign(ctx context.Context, topo *topology.Topology) (Counts, error) {
	var counts Counts

	if topo == nil || topo.CoreV4 == "" {
		return counts, ErrTopologyUnresolved
	}
	// Checked before any mutation: an IPv6-only bypass of an IPv4-only
	// firewall is exactly the gap this refusal exists to close.
	if topo.IPv6Active && !e.v6.Available() {
		return counts, ErrIPv6Parity
	}

	if err := e.v4.EnsureChain(ctx, e.cfg.Chain); err != nil {
		return counts, fmt.Errorf("ipv4 chain: %w", err)
	}
	if topo.IPv6Active {
		if err := e.v6.EnsureChain(ctx, e.cfg.Chain); err != nil {
			return counts, fmt.Errorf("ipv6 chain: %w", err)
		}
	}

	// Removal completes before insertion so a re-run never duplicates.
	if err := e.removeOwned(ctx); err != nil {
		return counts, err
	}

	for i, r := range sovereignV4Rules(e.cfg.Chain, topo.CoreV4) {
		r.Position = i + 1
		if err := e.v4.Insert(ctx, r); err != nil {
			return counts, fmt.Errorf("apply ipv4 rule %s: %w", r.Tag, err)
		}
		counts.V4++
	}

	if topo.IPv6Active {
		subnet6 := topo.CoreV6
		if subnet6 == "" {
			// No detected v6 subnet for the core network: mirror the
			// policy for all v6 traffic on the chain rather than leave
			// the family unenforced.
			subnet6 = "::/0"
		}
		for i, r := range sovereignV6Rules(e.cfg.Chain, subnet6) {
			r.Position = i + 1
			if err := e.v6.Insert(ctx, r); err != nil {
				return counts, fmt.Errorf("apply ipv6 rule %s: %w", r.Tag, err)
			}
			counts.V6++
		}
	}

	if topo.HasDMZ() {
		n, err := e.applyDMZ(ctx, topo, counts.V4+1)
		if err != nil {
			return counts, err
		}
		counts.DMZ = n
	}

	e.log.Info("sovereign policy applied",
		"subnet", topo.CoreV4, "ipv6", topo.IPv6Active,
		"dmz", topo.HasDMZ(), "rules_v4", counts.V4, "rules_v6", counts.V6, "rules_dmz", counts.DMZ)
	return counts, nil
}

// ApplyConnected removes every warden-owned rule. No replacement rules
// are inserted: absence of restriction is the desired state.
func (e *Engine) ApplyConnected(ctx context.Context) (Counts, error) {
	removed, err := e.RemoveAll(ctx)
	if err != nil {
		return removed, err
	}
	e.log.Info("connected policy applied", "removed_v4", removed.V4, "removed_v6", removed.V6)
	return removed, nil
}

// RemoveAll strips warden-owned rules from every table.
func (e *Engine) RemoveAll(ctx context.Context) (Counts, error) {
	var removed Counts

	n, err := e.v4.DeleteTagged(ctx, e.cfg.Chain)
	removed.V4 = n
	if err != nil {
		return removed, fmt.Errorf("remove ipv4 rules: %w", err)
	}
	if e.v6.Available() {
		n, err := e.v6.DeleteTagged(ctx, e.cfg.Chain)
		removed.V6 = n
		if err != nil {
			return removed, fmt.Errorf("remove ipv6 rules: %w", err)
		}
	}
	return removed, nil
}

// removeOwned clears warden rules ahead of insertion.
func (e *Engine) removeOwned(ctx context.Context) error {
	if _, err := e.v4.DeleteTagged(ctx, e.cfg.Chain); err != nil {
		return fmt.Errorf("clear ipv4 rules: %w", err)
	}
	if e.v6.Available() {
		if _, err := e.v6.DeleteTagged(ctx, e.cfg.Chain); err != nil {
			return fmt.Errorf("clear ipv6 rules: %w", err)
		}
	}
	return nil
}

// applyDMZ installs the DMZ→core allow-list: the designated API port is
// accepted, every enumerated internal service port is dropped. Order is
// allow-then-deny under the chain's first-match-wins evaluation.
//
// The rules are inserted at explicit positions continuing after the
// sovereign block, never appended: Docker keeps an untagged RETURN rule
// at the end of its forwarding chain, and anything appended after it is
// never evaluated.
func (e *Engine) applyDMZ(ctx context.Context, topo *topology.Topology, startPos int) (int, error) {
	n := 0
	for i, r := range dmzRules(e.cfg, topo.DMZ, topo.CoreV4) {
		r.Position = startPos + i
		if err := e.v4.Insert(ctx, r); err != nil {
			return n, fmt.Errorf("apply dmz rule %s: %w", r.Tag, err)
		}
		n++
	}
	return n, nil
}

// Counts returns live warden-owned rule counts, split between the core
// sovereign groups and the DMZ groups.
func (e *Engine) Counts(ctx context.Context) (Counts, error) {
	var counts Counts

	lines, err := e.v4.List(ctx, e.cfg.Chain)
	if err != nil {
		return counts, fmt.Errorf("list ipv4 rules: %w", err)
	}
	for _, line := range lines {
		switch {
		case strings.Contains(line, ruletable.TagPrefix+"dmz-"):
			counts.DMZ++
		case strings.Contains(line, ruletable.TagPrefix):
			counts.V4++
		}
	}

	if e.v6.Available() {
		n, err := e.v6.CountTagged(ctx, e.cfg.Chain)
		if err != nil {
			return counts, fmt.Errorf("list ipv6 rules: %w", err)
		}
		counts.V6 = n
	}
	return counts, nil
}

// IPv6Available reports whether the IPv6 tool can be driven at all.
func (e *Engine) IPv6Available() bool {
	return e.v6.Available()
}

// serviceName maps well-known internal service ports to readable tag
// suffixes; unknown ports fall back to the number.
func serviceName(port int) string {
	switch port {
	case 5432:
		return "postgres"
	case 6379:
		return "redis"
	case 6333:
		return "qdrant"
	case 11434:
		return "ollama"
	default:
		return strconv.Itoa(port)
	}
}
