// Package probe attempts real connections from wherever it runs, which
// is normally inside a core container. In sovereign mode every external
// attempt must fail; the internal API target must stay reachable.
//
// Each target is tried over several transport mechanisms because a single
// blocked mechanism (ICMP alone, say) is not sufficient evidence of
// isolation.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/logging"
)

// Mechanism is one transport used for a reachability attempt.
type Mechanism string

const (
	MechHTTP Mechanism = "http"
	MechTCP  Mechanism = "tcp"
	MechICMP Mechanism = "icmp"
	MechDNS  Mechanism = "dns"
)

// Result is the outcome of one attempt.
type Result struct {
	Target    string        `json:"target"`
	Mechanism Mechanism     `json:"mechanism"`
	Reached   bool          `json:"reached"`
	Detail    string        `json:"detail,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Report aggregates a probe run.
type Report struct {
	External []Result `json:"external"`
	Internal []Result `json:"internal"`
}

// ExternalReached returns the external attempts that connected. In
// sovereign mode a non-empty result is a hard verification failure.
func (r *Report) ExternalReached() []Result {
	var reached []Result
	for _, res := range r.External {
		if res.Reached {
			reached = append(reached, res)
		}
	}
	return reached
}

// InternalOK reports whether every internal attempt succeeded.
func (r *Report) InternalOK() bool {
	for _, res := range r.Internal {
		if !res.Reached {
			return false
		}
	}
	return true
}

// perAttemptTimeout bounds one connection attempt. Short on purpose: a
// dropped packet manifests as a timeout, and the run makes many attempts.
const perAttemptTimeout = 3 * time.Second

// Prober runs the reachability checks.
type Prober struct {
	cfg *config.Config
	log *logging.Logger
}

// New returns a Prober for the configured targets.
func New(cfg *config.Config) *Prober {
	return &Prober{cfg: cfg, log: logging.WithComponent("probe")}
}

// Run probes every configured external target over TCP, HTTP and ICMP,
// every configured resolver over DNS, and the internal API target.
func (p *Prober) Run(ctx context.Context) *Report {
	report := &Report{}

	for _, target := range p.cfg.ProbeTargets {
		report.External = append(report.External,
			p.tcpProbe(ctx, target),
			p.httpProbe(ctx, target),
			p.icmpProbe(ctx, target),
		)
	}
	for _, resolver := range p.cfg.DNSResolvers {
		report.External = append(report.External, p.dnsProbe(ctx, resolver))
	}

	report.Internal = append(report.Internal,
		p.internalProbe(ctx, p.cfg.InternalTarget))

	return report
}

// tcpProbe attempts a raw TCP connect to host:port.
func (p *Prober) tcpProbe(ctx context.Context, target string) Result {
	start := time.Now()
	res := Result{Target: target, Mechanism: MechTCP}

	d := net.Dialer{Timeout: perAttemptTimeout}
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		res.Detail = err.Error()
	} else {
		conn.Close()
		res.Reached = true
	}
	res.Elapsed = time.Since(start)
	return res
}

// httpProbe attempts an HTTP round trip. Port 443 targets go over TLS.
func (p *Prober) httpProbe(ctx context.Context, target string) Result {
	start := time.Now()
	res := Result{Target: target, Mechanism: MechHTTP}

	scheme := "http"
	if _, port, err := net.SplitHostPort(target); err == nil && port == "443" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/", scheme, target)

	rctx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		res.Detail = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	client := &http.Client{Timeout: perAttemptTimeout}
	resp, err := client.Do(req)
	if err != nil {
		res.Detail = err.Error()
	} else {
		resp.Body.Close()
		res.Reached = true
		res.Detail = resp.Status
	}
	res.Elapsed = time.Since(start)
	return res
}

// icmpProbe pings the target host.
func (p *Prober) icmpProbe(ctx context.Context, target string) Result {
	start := time.Now()
	res := Result{Target: target, Mechanism: MechICMP}

	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		res.Detail = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}
	pinger.Count = 1
	pinger.Timeout = perAttemptTimeout
	pinger.SetPrivileged(os.Geteuid() == 0)

	if err := pinger.RunWithContext(ctx); err != nil {
		res.Detail = err.Error()
	} else if pinger.Statistics().PacketsRecv == 0 {
		res.Detail = "packet loss"
	} else {
		res.Reached = true
	}
	res.Elapsed = time.Since(start)
	return res
}

// internalProbe fetches the internal API target, which must stay
// reachable regardless of mode.
func (p *Prober) internalProbe(ctx context.Context, url string) Result {
	start := time.Now()
	res := Result{Target: url, Mechanism: MechHTTP}

	rctx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		res.Detail = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	client := &http.Client{Timeout: perAttemptTimeout}
	resp, err := client.Do(req)
	if err != nil {
		res.Detail = err.Error()
	} else {
		resp.Body.Close()
		res.Reached = true
		res.Detail = resp.Status
	}
	res.Elapsed = time.Since(start)
	return res
}
