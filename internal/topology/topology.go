// Package topology resolves the deployment's network facts: the core
// tier's IPv4/IPv6 subnets, the optional DMZ subnet, and whether the host
// has globally routable IPv6 addresses active.
//
// Detection is an ordered list of strategies (exact network name, name
// pattern scan, hard-coded fallback). The detector records which strategy
// produced the result; a fallback result means degraded confidence and
// callers must surface it loudly.
package topology

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/logging"
	"github.com/cloisterhq/warden/internal/ruletable"
)

// Method identifies which detection strategy produced a subnet.
type Method string

const (
	MethodExact    Method = "exact"
	MethodPattern  Method = "pattern"
	MethodFallback Method = "fallback"
)

// Topology holds the detected network facts. It is recomputed on each
// apply and never persisted.
type Topology struct {
	CoreV4     string
	CoreV6     string
	DMZ        string
	Method     Method
	IPv6Active bool
}

// HasDMZ reports whether a DMZ network was found.
func (t *Topology) HasDMZ() bool {
	return t.DMZ != ""
}

// Detector resolves topology by querying the container runtime's network
// inspection interface (read-only).
type Detector struct {
	cfg     *config.Config
	runner  ruletable.Runner
	timeout time.Duration
	log     *logging.Logger

	// ipv6Probe is swappable for tests; defaults to the netlink check.
	ipv6Probe func() (bool, error)
}

// NewDetector returns a Detector backed by the docker CLI.
func NewDetector(cfg *config.Config, runner ruletable.Runner) *Detector {
	if runner == nil {
		runner = ruletable.DefaultRunner
	}
	return &Detector{
		cfg:       cfg,
		runner:    runner,
		timeout:   time.Duration(cfg.CommandTimeoutSec) * time.Second,
		log:       logging.WithComponent("topology"),
		ipv6Probe: hostIPv6Active,
	}
}

// SetIPv6Probe replaces the host IPv6 activity check. Tests use this to
// simulate hosts with and without globally routable IPv6.
func (d *Detector) SetIPv6Probe(fn func() (bool, error)) {
	d.ipv6Probe = fn
}

// strategy is one ordered detection attempt.
type strategy struct {
	name   string
	method Method
	lookup func(ctx context.Context) (v4, v6 string, ok bool)
}

// Detect resolves the full topology. It never fails: the worst case is
// the fallback core subnet, flagged as MethodFallback.
func (d *Detector) Detect(ctx context.Context) *Topology {
	topo := &Topology{}

	for _, s := range d.coreStrategies() {
		v4, v6, ok := s.lookup(ctx)
		if !ok {
			continue
		}
		topo.CoreV4 = v4
		topo.CoreV6 = v6
		topo.Method = s.method
		d.log.Debug("core network resolved", "strategy", s.name, "subnet", v4)
		break
	}

	if topo.Method == MethodFallback {
		d.log.Warn("core network detection fell back to the default subnet; rules may protect the wrong address space",
			"subnet", topo.CoreV4)
	}

	// DMZ isolation is optional functionality layered on top of core
	// isolation, so absence is a normal result rather than a fallback.
	if dmz, ok := d.detectDMZ(ctx); ok {
		topo.DMZ = dmz
	}

	active, err := d.ipv6Probe()
	if err != nil {
		// Active until disproven: assuming inactive here would let an
		// IPv4-only apply proceed with IPv6 egress unenforced.
		d.log.Warn("could not determine host IPv6 activity; treating IPv6 as active until disproven",
			"error", err)
		active = true
	}
	topo.IPv6Active = active

	return topo
}

func (d *Detector) coreStrategies() []strategy {
	return []strategy{
		{
			name:   "exact core network name",
			method: MethodExact,
			lookup: func(ctx context.Context) (string, string, bool) {
				return d.inspectSubnets(ctx, d.cfg.CoreNetwork)
			},
		},
		{
			name:   "core network name pattern",
			method: MethodPattern,
			lookup: func(ctx context.Context) (string, string, bool) {
				return d.scanNetworks(ctx, d.cfg.CoreNetworkPattern)
			},
		},
		{
			name:   "fallback default subnet",
			method: MethodFallback,
			lookup: func(ctx context.Context) (string, string, bool) {
				return d.cfg.FallbackSubnet, "", true
			},
		},
	}
}

// detectDMZ resolves the DMZ subnet, or reports absence.
func (d *Detector) detectDMZ(ctx context.Context) (string, bool) {
	if v4, _, ok := d.inspectSubnets(ctx, d.cfg.DMZNetwork); ok {
		return v4, true
	}
	if v4, _, ok := d.scanNetworks(ctx, d.cfg.DMZNetworkPattern); ok {
		return v4, true
	}
	return "", false
}

// ipamConfig mirrors the docker network inspect IPAM.Config entries.
type ipamConfig struct {
	Subnet string `json:"Subnet"`
}

// inspectSubnets returns the first IPv4 and IPv6 subnets of a named
// docker network.
func (d *Detector) inspectSubnets(ctx context.Context, name string) (string, string, bool) {
	if name == "" {
		return "", "", false
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.runner.Output(ctx, d.cfg.DockerBin,
		"network", "inspect", name, "--format", "{{json .IPAM.Config}}")
	if err != nil {
		return "", "", false
	}

	var entries []ipamConfig
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &entries); err != nil {
		return "", "", false
	}

	var v4, v6 string
	for _, e := range entries {
		ip, _, err := net.ParseCIDR(e.Subnet)
		if err != nil {
			continue
		}
		if ip.To4() != nil {
			if v4 == "" {
				v4 = e.Subnet
			}
		} else if v6 == "" {
			v6 = e.Subnet
		}
	}
	if v4 == "" {
		return "", "", false
	}
	return v4, v6, true
}

// scanNetworks lists all docker networks and inspects the first whose
// name contains the pattern and has a resolvable subnet.
func (d *Detector) scanNetworks(ctx context.Context, pattern string) (string, string, bool) {
	if pattern == "" {
		return "", "", false
	}
	lctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.runner.Output(lctx, d.cfg.DockerBin,
		"network", "ls", "--format", "{{.Name}}")
	if err != nil {
		return "", "", false
	}

	for _, name := range strings.Split(string(out), "\n") {
		name = strings.TrimSpace(name)
		if name == "" || !strings.Contains(name, pattern) {
			continue
		}
		if v4, v6, ok := d.inspectSubnets(ctx, name); ok {
			return v4, v6, true
		}
	}
	return "", "", false
}

// isULA reports whether the address is inside fc00::/7.
func isULA(ip net.IP) bool {
	ip = ip.To16()
	return ip != nil && (ip[0]&0xfe) == 0xfc
}
