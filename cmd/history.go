package cmd

import (
	"fmt"
	"time"

	"github.com/cloisterhq/warden/internal/audit"
)

// RunHistory prints recent state transitions from the audit store.
func RunHistory(configPath string, limit int) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	store, err := audit.Open(a.cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No transitions recorded.")
		return nil
	}

	for _, evt := range events {
		line := fmt.Sprintf("%s  %-16s %s -> %s  [%s]",
			evt.Timestamp.UTC().Format(time.RFC3339),
			evt.Action, evt.PrevMode, evt.NewMode, evt.Outcome)
		if evt.Outcome == "ok" && evt.RulesV4+evt.RulesV6+evt.RulesDMZ > 0 {
			line += fmt.Sprintf("  rules v4=%d v6=%d dmz=%d", evt.RulesV4, evt.RulesV6, evt.RulesDMZ)
		}
		if evt.Detail != "" {
			line += "  " + evt.Detail
		}
		fmt.Println(line)
	}
	return nil
}
