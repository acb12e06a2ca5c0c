package cmd

import (
	"context"
	"fmt"

	"github.com/cloisterhq/warden/internal/audit"
	"github.com/cloisterhq/warden/internal/lock"
	"github.com/cloisterhq/warden/internal/state"
)

// RunRollback unconditionally strips every warden-owned rule from every
// table and resets the persisted state to Unknown.
func RunRollback(configPath string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	guard, err := lock.Acquire(lock.Options{Path: a.cfg.LockPath})
	if err != nil {
		return err
	}
	defer guard.Release()

	ctx := context.Background()

	prev, err := a.store.Read()
	if err != nil {
		return err
	}

	runID := audit.NewRunID()
	removed, err := a.eng.RemoveAll(ctx)
	if err != nil {
		recordTransition(a, runID, "rollback", prev.Mode, prev.Mode, removed, err)
		return err
	}

	if err := a.store.Reset(); err != nil {
		return fmt.Errorf("rules removed but state not reset: %w", err)
	}
	recordTransition(a, runID, "rollback", prev.Mode, state.ModeUnknown, removed, nil)

	fmt.Printf("Rollback complete: removed ipv4=%d ipv6=%d rules, state reset to unknown\n",
		removed.V4, removed.V6)
	return nil
}
