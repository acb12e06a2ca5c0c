package cmd

import (
	"context"
	"fmt"
	"os/user"

	"github.com/cloisterhq/warden/internal/audit"
	"github.com/cloisterhq/warden/internal/engine"
	"github.com/cloisterhq/warden/internal/lock"
	"github.com/cloisterhq/warden/internal/logging"
	"github.com/cloisterhq/warden/internal/state"
)

// RunApply mutates the kernel rule table toward the target mode and, only
// after every rule operation has succeeded, persists the new state.
func RunApply(configPath, modeArg string) error {
	mode, err := state.ParseMode(modeArg)
	if err != nil {
		return err
	}
	if err := requireRoot(); err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	// All mutation is serialized behind this guard; release is deferred
	// so every exit path, including panics, frees the next invocation.
	guard, err := lock.Acquire(lock.Options{Path: a.cfg.LockPath})
	if err != nil {
		return err
	}
	defer guard.Release()

	ctx := context.Background()
	log := logging.WithComponent("apply")

	prev, err := a.store.Read()
	if err != nil {
		return err
	}

	runID := audit.NewRunID()
	log.Info("apply starting", "run_id", runID, "target", mode, "previous", prev.Mode)

	var counts engine.Counts
	var newState *state.FirewallState

	switch mode {
	case state.ModeSovereign:
		topo := a.detector.Detect(ctx)
		counts, err = a.eng.ApplySovereign(ctx, topo)
		if err != nil {
			recordTransition(a, runID, "apply-sovereign", prev.Mode, prev.Mode, counts, err)
			return err
		}
		newState = &state.FirewallState{
			Mode:              state.ModeSovereign,
			ProtectedSubnetV4: topo.CoreV4,
			DMZSubnet:         topo.DMZ,
		}
		if topo.IPv6Active {
			if topo.CoreV6 != "" {
				newState.ProtectedSubnetV6 = topo.CoreV6
			} else {
				newState.ProtectedSubnetV6 = "::/0"
			}
		}

	case state.ModeConnected:
		counts, err = a.eng.ApplyConnected(ctx)
		if err != nil {
			recordTransition(a, runID, "apply-connected", prev.Mode, prev.Mode, counts, err)
			return err
		}
		newState = &state.FirewallState{Mode: state.ModeConnected}
	}

	// State is written only now, after the engine fully succeeded: a
	// state file claiming sovereign ahead of the rules would be exactly
	// the drift the verifier exists to catch.
	if err := a.store.Write(newState); err != nil {
		return fmt.Errorf("rules applied but state not persisted: %w", err)
	}

	recordTransition(a, runID, "apply-"+string(mode), prev.Mode, mode, counts, nil)

	fmt.Printf("Mode %s applied", mode)
	if mode == state.ModeSovereign {
		fmt.Printf(": subnet %s, rules ipv4=%d ipv6=%d dmz=%d",
			newState.ProtectedSubnetV4, counts.V4, counts.V6, counts.DMZ)
	}
	fmt.Println()
	return nil
}

// recordTransition writes the audit history entry. History must never
// block enforcement, so failures are logged and swallowed.
func recordTransition(a *app, runID, action string, prev, next state.Mode, counts engine.Counts, applyErr error) {
	store, err := audit.Open(a.cfg.StateDir)
	if err != nil {
		logging.Warn("audit store unavailable", "error", err)
		return
	}
	defer store.Close()

	evt := audit.Event{
		RunID:    runID,
		Actor:    currentUser(),
		Action:   action,
		PrevMode: string(prev),
		NewMode:  string(next),
		RulesV4:  counts.V4,
		RulesV6:  counts.V6,
		RulesDMZ: counts.DMZ,
		Outcome:  "ok",
	}
	if applyErr != nil {
		evt.Outcome = "error"
		evt.Detail = applyErr.Error()
	}
	if err := store.Write(evt); err != nil {
		logging.Warn("audit write failed", "error", err)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
