package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloisterhq/warden/internal/verify"
)

// RunVerify executes the full seven-layer verification suite and reports
// pass/warn/fail per layer plus the aggregate verdict.
func RunVerify(configPath string, jsonOut bool) error {
	if err := requireRoot(); err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	suite := verify.NewSuite(a.cfg, a.eng, a.store, a.runner, a.detector)
	report := suite.Run(context.Background())

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Println("=== Warden Verification ===")
		for i, layer := range report.Layers {
			fmt.Printf("%d. %-22s [%s] %s\n",
				i+1, layer.Name, strings.ToUpper(string(layer.Status)), layer.Message)
		}
		fmt.Printf("Verdict: %s\n", strings.ToUpper(string(report.Verdict)))
	}

	if report.Verdict == verify.StatusFail {
		return fmt.Errorf("verification failed")
	}
	return nil
}
