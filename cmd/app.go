// Package cmd implements the warden subcommand runners.
package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/engine"
	"github.com/cloisterhq/warden/internal/ruletable"
	"github.com/cloisterhq/warden/internal/state"
	"github.com/cloisterhq/warden/internal/topology"
)

// errPrivilege is returned before any mutation is attempted when the
// invoking user lacks the required elevation.
var errPrivilege = errors.New("root privileges are required for this command (re-run with sudo)")

// app wires the components a subcommand needs.
type app struct {
	cfg      *config.Config
	runner   ruletable.Runner
	v4       ruletable.Client
	v6       ruletable.Client
	eng      *engine.Engine
	store    *state.Store
	detector *topology.Detector
}

// newApp loads configuration and constructs the component graph.
func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}

	runner := ruletable.DefaultRunner
	timeout := time.Duration(cfg.CommandTimeoutSec) * time.Second
	v4 := ruletable.NewExecClient(cfg.IptablesBin, runner, timeout)
	v6 := ruletable.NewExecClient(cfg.Ip6tablesBin, runner, timeout)

	return &app{
		cfg:      cfg,
		runner:   runner,
		v4:       v4,
		v6:       v6,
		eng:      engine.New(cfg, v4, v6),
		store:    state.NewStore(cfg.StateDir),
		detector: topology.NewDetector(cfg, runner),
	}, nil
}

// requireRoot fails fast, before any mutation, when not elevated.
func requireRoot() error {
	if os.Geteuid() != 0 {
		return errPrivilege
	}
	return nil
}
