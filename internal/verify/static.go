// Package verify proves enforcement two independent ways: a static
// comparison of the live rule table against the persisted state, and a
// layered suite that adds dynamic in-container probing.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/engine"
	"github.com/cloisterhq/warden/internal/state"
)

// ErrMismatch means the persisted state disagrees with the live kernel
// table. Surfacing this drift is the whole job of `warden check`.
var ErrMismatch = errors.New("persisted state disagrees with the live rule table")

// Static compares claimed mode against live tagged-rule counts.
type Static struct {
	cfg   *config.Config
	eng   *engine.Engine
	store *state.Store
}

// NewStatic returns a static verifier.
func NewStatic(cfg *config.Config, eng *engine.Engine, store *state.Store) *Static {
	return &Static{cfg: cfg, eng: eng, store: store}
}

// Check reads the persisted state and the live counts and compares them
// against the expected minimums for the claimed mode.
func (s *Static) Check(ctx context.Context) (*state.FirewallState, engine.Counts, error) {
	st, err := s.store.Read()
	if err != nil {
		return nil, engine.Counts{}, fmt.Errorf("read state: %w", err)
	}
	counts, err := s.eng.Counts(ctx)
	if err != nil {
		return st, counts, fmt.Errorf("count live rules: %w", err)
	}
	return st, counts, compare(st, counts, minDMZRules(s.cfg))
}

// minDMZRules is the smallest valid DMZ rule set: one API allow plus one
// drop per enumerated internal service port.
func minDMZRules(cfg *config.Config) int {
	return 1 + len(cfg.BlockedPorts)
}

func compare(st *state.FirewallState, counts engine.Counts, minDMZ int) error {
	switch st.Mode {
	case state.ModeSovereign:
		if counts.V4 < engine.SovereignV4Rules {
			return fmt.Errorf("%w: mode sovereign but only %d IPv4 rules (want >= %d)",
				ErrMismatch, counts.V4, engine.SovereignV4Rules)
		}
		if st.ProtectedSubnetV6 != "" && counts.V6 < engine.SovereignV6Rules {
			return fmt.Errorf("%w: mode sovereign but only %d IPv6 rules (want >= %d)",
				ErrMismatch, counts.V6, engine.SovereignV6Rules)
		}
		if st.DMZSubnet != "" && counts.DMZ < minDMZ {
			return fmt.Errorf("%w: state records DMZ subnet %s but only %d DMZ rules (want >= %d)",
				ErrMismatch, st.DMZSubnet, counts.DMZ, minDMZ)
		}
	case state.ModeConnected:
		if counts.V4+counts.V6+counts.DMZ != 0 {
			return fmt.Errorf("%w: mode connected but %d owned rules remain",
				ErrMismatch, counts.V4+counts.V6+counts.DMZ)
		}
	case state.ModeUnknown:
		if counts.V4+counts.V6+counts.DMZ != 0 {
			return fmt.Errorf("%w: no recorded mode but %d owned rules present",
				ErrMismatch, counts.V4+counts.V6+counts.DMZ)
		}
	}
	return nil
}
