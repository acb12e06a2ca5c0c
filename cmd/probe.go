package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloisterhq/warden/internal/probe"
)

// RunProbe runs the reachability probe from wherever this process sits,
// normally inside a core container. With --json it emits the raw report
// for the verify suite to consume.
func RunProbe(configPath string, jsonOut bool) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	report := probe.New(a.cfg).Run(context.Background())

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println("External targets (expected unreachable in sovereign mode):")
	for _, r := range report.External {
		printResult(r.Reached, string(r.Mechanism), r.Target, r.Detail)
	}
	fmt.Println("Internal targets (expected reachable):")
	for _, r := range report.Internal {
		printResult(r.Reached, string(r.Mechanism), r.Target, r.Detail)
	}

	if reached := report.ExternalReached(); len(reached) > 0 {
		return fmt.Errorf("%d external endpoint(s) were reachable", len(reached))
	}
	return nil
}

func printResult(reached bool, mech, target, detail string) {
	verdict := "unreachable"
	if reached {
		verdict = "REACHED"
	}
	if detail != "" {
		fmt.Printf("  %-5s %-22s %s (%s)\n", mech, target, verdict, detail)
	} else {
		fmt.Printf("  %-5s %-22s %s\n", mech, target, verdict)
	}
}
