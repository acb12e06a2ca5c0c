package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cloisterhq/warden/cmd"
	"github.com/cloisterhq/warden/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "apply":
		applyFlags := flag.NewFlagSet("apply", flag.ExitOnError)
		configFile := applyFlags.String("config", config.DefaultConfigPath, "Configuration file")
		applyFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		applyFlags.Parse(os.Args[2:])

		if applyFlags.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: warden apply <sovereign|connected>")
			os.Exit(1)
		}
		if err := cmd.RunApply(*configFile, applyFlags.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := statusFlags.String("config", config.DefaultConfigPath, "Configuration file")
		statusFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		statusFlags.Parse(os.Args[2:])

		// Informational only: status always exits 0.
		cmd.RunStatus(*configFile)

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := checkFlags.String("config", config.DefaultConfigPath, "Configuration file")
		checkFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		checkFlags.Parse(os.Args[2:])

		if err := cmd.RunCheck(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "rollback":
		rollbackFlags := flag.NewFlagSet("rollback", flag.ExitOnError)
		configFile := rollbackFlags.String("config", config.DefaultConfigPath, "Configuration file")
		rollbackFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		rollbackFlags.Parse(os.Args[2:])

		if err := cmd.RunRollback(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
			os.Exit(1)
		}

	case "probe":
		probeFlags := flag.NewFlagSet("probe", flag.ExitOnError)
		configFile := probeFlags.String("config", config.DefaultConfigPath, "Configuration file")
		probeFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		jsonOut := probeFlags.Bool("json", false, "Emit the raw probe report as JSON")
		probeFlags.Parse(os.Args[2:])

		if err := cmd.RunProbe(*configFile, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
			os.Exit(1)
		}

	case "verify":
		verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)
		configFile := verifyFlags.String("config", config.DefaultConfigPath, "Configuration file")
		verifyFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		jsonOut := verifyFlags.Bool("json", false, "Emit the verification report as JSON")
		verifyFlags.Parse(os.Args[2:])

		if err := cmd.RunVerify(*configFile, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "Verify failed: %v\n", err)
			os.Exit(1)
		}

	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", config.DefaultConfigPath, "Configuration file")
		serveFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "history":
		historyFlags := flag.NewFlagSet("history", flag.ExitOnError)
		configFile := historyFlags.String("config", config.DefaultConfigPath, "Configuration file")
		historyFlags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		limit := historyFlags.Int("n", 50, "Number of transitions to show")
		historyFlags.Parse(os.Args[2:])

		if err := cmd.RunHistory(*configFile, *limit); err != nil {
			fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	case "version", "-v", "--version":
		fmt.Println("warden " + version)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

var version = "dev"

func printUsage() {
	fmt.Print(`warden - fail-closed network egress isolation for container tiers

Usage:
  warden apply <sovereign|connected>  Apply the target enforcement mode
  warden status                       Show current mode and rule counts
  warden check                        Verify persisted state against the live rule table
  warden rollback                     Strip all owned rules, reset state to unknown
  warden probe [--json]               Attempt external/internal reachability from here
  warden verify [--json]              Run the full seven-layer verification suite
  warden serve                        Serve the read-only status endpoint and metrics
  warden history [-n N]               Show recent state transitions
  warden version                      Print version

Options (all commands):
  -c, -config <file>                  Configuration file (default ` + config.DefaultConfigPath + `)

Apply, check, rollback, verify and serve require root.
`)
}
