package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloisterhq/warden/internal/clock"
	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/engine"
	"github.com/cloisterhq/warden/internal/logging"
	"github.com/cloisterhq/warden/internal/probe"
	"github.com/cloisterhq/warden/internal/ruletable"
	"github.com/cloisterhq/warden/internal/state"
	"github.com/cloisterhq/warden/internal/topology"
)

// Status is a layer verdict. Warnings are never conflated with hard
// failures: an unreachable internal dependency is not the same finding
// as egress that is not actually blocked.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Layer is one verification layer's result.
type Layer struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the full suite outcome.
type Report struct {
	Layers    []Layer   `json:"layers"`
	Verdict   Status    `json:"verdict"`
	Timestamp time.Time `json:"timestamp"`
}

// Suite composes the static check and the dynamic probe across seven
// independent layers.
type Suite struct {
	cfg    *config.Config
	eng    *engine.Engine
	store  *state.Store
	runner ruletable.Runner
	topo   *topology.Detector
	log    *logging.Logger
}

// NewSuite returns the layered verifier.
func NewSuite(cfg *config.Config, eng *engine.Engine, store *state.Store, runner ruletable.Runner, topo *topology.Detector) *Suite {
	if runner == nil {
		runner = ruletable.DefaultRunner
	}
	return &Suite{
		cfg:    cfg,
		eng:    eng,
		store:  store,
		runner: runner,
		topo:   topo,
		log:    logging.WithComponent("verify"),
	}
}

// Run executes all layers in order and aggregates the verdict.
func (s *Suite) Run(ctx context.Context) *Report {
	report := &Report{Timestamp: clock.Now()}

	st, _ := s.store.Read()
	if st == nil {
		st = &state.FirewallState{Mode: state.ModeUnknown}
	}

	// One probe run feeds the egress, internal-connectivity, and
	// automated-probe layers.
	probeReport, probeErr := s.runProbe(ctx)

	layers := []func() Layer{
		func() Layer { return s.layerRulesPresent(ctx, st) },
		func() Layer { return s.layerContainerAttachment(ctx) },
		func() Layer { return s.layerEgressBlocked(st, probeReport, probeErr) },
		func() Layer { return s.layerInternalConnectivity(probeReport, probeErr) },
		func() Layer { return s.layerStatusEndpoint(ctx, st) },
		func() Layer { return s.layerAutomatedProbe(st, probeReport, probeErr) },
		func() Layer { return s.layerIPv6Parity(ctx, st) },
	}

	verdict := StatusPass
	for _, fn := range layers {
		start := time.Now()
		layer := fn()
		layer.Duration = time.Since(start)
		report.Layers = append(report.Layers, layer)

		if layer.Status == StatusFail {
			verdict = StatusFail
		} else if layer.Status == StatusWarn && verdict != StatusFail {
			verdict = StatusWarn
		}
	}
	report.Verdict = verdict
	return report
}

// layerRulesPresent is the static rule-count comparison.
func (s *Suite) layerRulesPresent(ctx context.Context, st *state.FirewallState) Layer {
	l := Layer{Name: "host-rules"}

	counts, err := s.eng.Counts(ctx)
	if err != nil {
		l.Status = StatusFail
		l.Message = fmt.Sprintf("cannot read rule table: %v", err)
		return l
	}
	if err := compare(st, counts, minDMZRules(s.cfg)); err != nil {
		l.Status = StatusFail
		l.Message = err.Error()
		return l
	}
	l.Status = StatusPass
	l.Message = fmt.Sprintf("mode %s matches rule counts (v4=%d v6=%d dmz=%d)",
		st.Mode, counts.V4, counts.V6, counts.DMZ)
	return l
}

// layerContainerAttachment verifies the probe container is attached to
// the core network. A missing container is a deployment problem, not a
// firewall one, so it warns.
func (s *Suite) layerContainerAttachment(ctx context.Context) Layer {
	l := Layer{Name: "container-attachment"}

	tctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.CommandTimeoutSec)*time.Second)
	defer cancel()

	out, err := s.runner.Output(tctx, s.cfg.DockerBin,
		"inspect", s.cfg.ProbeContainer, "--format", "{{json .NetworkSettings.Networks}}")
	if err != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("container %s not inspectable: %v", s.cfg.ProbeContainer, err)
		return l
	}

	var networks map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &networks); err != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("cannot parse container networks: %v", err)
		return l
	}

	for name := range networks {
		if name == s.cfg.CoreNetwork || strings.Contains(name, s.cfg.CoreNetworkPattern) {
			l.Status = StatusPass
			l.Message = fmt.Sprintf("container %s attached to %s", s.cfg.ProbeContainer, name)
			return l
		}
	}
	l.Status = StatusFail
	l.Message = fmt.Sprintf("container %s is not attached to the core network; rules do not cover it",
		s.cfg.ProbeContainer)
	return l
}

// layerEgressBlocked is the hard check: in sovereign mode no external
// probe attempt may connect.
func (s *Suite) layerEgressBlocked(st *state.FirewallState, pr *probe.Report, probeErr error) Layer {
	l := Layer{Name: "egress-blocked"}

	if st.Mode != state.ModeSovereign {
		l.Status = StatusPass
		l.Message = fmt.Sprintf("mode %s: egress blocking not expected", st.Mode)
		return l
	}
	if probeErr != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("probe did not run: %v", probeErr)
		return l
	}
	if reached := pr.ExternalReached(); len(reached) > 0 {
		first := reached[0]
		l.Status = StatusFail
		l.Message = fmt.Sprintf("egress NOT blocked: %d attempt(s) connected, e.g. %s via %s",
			len(reached), first.Target, first.Mechanism)
		return l
	}
	l.Status = StatusPass
	l.Message = fmt.Sprintf("all %d external attempts failed to connect", len(pr.External))
	return l
}

// layerInternalConnectivity warns rather than fails: an unreachable
// internal dependency is an operational problem unrelated to egress.
func (s *Suite) layerInternalConnectivity(pr *probe.Report, probeErr error) Layer {
	l := Layer{Name: "internal-connectivity"}

	if probeErr != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("probe did not run: %v", probeErr)
		return l
	}
	if !pr.InternalOK() {
		l.Status = StatusWarn
		l.Message = "internal API target unreachable (not a firewall failure by itself)"
		return l
	}
	l.Status = StatusPass
	l.Message = "internal API target reachable"
	return l
}

// layerStatusEndpoint compares the mode the dashboard backend reports
// against the persisted state.
func (s *Suite) layerStatusEndpoint(ctx context.Context, st *state.FirewallState) Layer {
	l := Layer{Name: "status-endpoint"}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, s.cfg.StatusURL, nil)
	if err != nil {
		l.Status = StatusWarn
		l.Message = err.Error()
		return l
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("status endpoint unreachable: %v", err)
		return l
	}
	defer resp.Body.Close()

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("status endpoint returned unparseable body: %v", err)
		return l
	}
	if !strings.EqualFold(body.Mode, string(st.Mode)) {
		l.Status = StatusFail
		l.Message = fmt.Sprintf("status endpoint reports mode %q but persisted mode is %q",
			body.Mode, st.Mode)
		return l
	}
	l.Status = StatusPass
	l.Message = fmt.Sprintf("status endpoint agrees: mode %s", st.Mode)
	return l
}

// layerAutomatedProbe reports the full probe run as its own layer.
func (s *Suite) layerAutomatedProbe(st *state.FirewallState, pr *probe.Report, probeErr error) Layer {
	l := Layer{Name: "automated-probe"}

	if probeErr != nil {
		l.Status = StatusWarn
		l.Message = fmt.Sprintf("probe did not run: %v", probeErr)
		return l
	}
	reached := len(pr.ExternalReached())
	if st.Mode == state.ModeSovereign && reached > 0 {
		l.Status = StatusFail
		l.Message = fmt.Sprintf("probe reached %d external endpoint(s) in sovereign mode", reached)
		return l
	}
	l.Status = StatusPass
	l.Message = fmt.Sprintf("probe completed: %d external attempts, %d reached",
		len(pr.External), reached)
	return l
}

// layerIPv6Parity re-verifies the parity contract against the live host.
func (s *Suite) layerIPv6Parity(ctx context.Context, st *state.FirewallState) Layer {
	l := Layer{Name: "ipv6-parity"}

	topo := s.topo.Detect(ctx)
	if !topo.IPv6Active {
		l.Status = StatusPass
		l.Message = "IPv6 not active on this host"
		return l
	}
	if !s.eng.IPv6Available() {
		l.Status = StatusFail
		l.Message = "IPv6 is active but ip6tables is unavailable; IPv6 egress is unenforced"
		return l
	}
	if st.Mode == state.ModeSovereign {
		counts, err := s.eng.Counts(ctx)
		if err != nil {
			l.Status = StatusWarn
			l.Message = fmt.Sprintf("cannot count IPv6 rules: %v", err)
			return l
		}
		if counts.V6 < engine.SovereignV6Rules {
			l.Status = StatusFail
			l.Message = fmt.Sprintf("IPv6 active but only %d IPv6 rules present (want >= %d)",
				counts.V6, engine.SovereignV6Rules)
			return l
		}
	}
	l.Status = StatusPass
	l.Message = "IPv6 enforcement matches IPv4"
	return l
}

// runProbe executes the reachability probe, inside the configured core
// container when one is set, locally otherwise.
func (s *Suite) runProbe(ctx context.Context) (*probe.Report, error) {
	if s.cfg.ProbeContainer == "" {
		return probe.New(s.cfg).Run(ctx), nil
	}

	// The probe must observe the network from inside a core container;
	// probing from the host would bypass the very rules under test.
	tctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	out, err := s.runner.Output(tctx, s.cfg.DockerBin,
		"exec", s.cfg.ProbeContainer, "warden", "probe", "--json")
	if err != nil {
		return nil, fmt.Errorf("exec probe in %s: %w", s.cfg.ProbeContainer, err)
	}

	var report probe.Report
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	return &report, nil
}
