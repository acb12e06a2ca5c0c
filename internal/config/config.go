// Package config provides warden's configuration handling (HCL or YAML).
package config

import (
	"fmt"
	"net"
)

// Config is the full warden configuration.
type Config struct {
	// Chain is the Docker-managed forwarding chain warden operates on.
	Chain string `hcl:"chain,optional" yaml:"chain"`

	// CoreNetwork is the exact Docker network name of the core tier.
	CoreNetwork string `hcl:"core_network,optional" yaml:"core_network"`
	// CoreNetworkPattern is the substring scanned for when the exact
	// core network name is absent.
	CoreNetworkPattern string `hcl:"core_network_pattern,optional" yaml:"core_network_pattern"`
	// DMZNetwork is the exact Docker network name of the DMZ tier.
	DMZNetwork string `hcl:"dmz_network,optional" yaml:"dmz_network"`
	// DMZNetworkPattern is the substring scanned for when the exact DMZ
	// network name is absent.
	DMZNetworkPattern string `hcl:"dmz_network_pattern,optional" yaml:"dmz_network_pattern"`
	// FallbackSubnet protects something rather than nothing when topology
	// detection fails entirely. Callers treat it as degraded confidence.
	FallbackSubnet string `hcl:"fallback_subnet,optional" yaml:"fallback_subnet"`

	// APIPort is the single core port the DMZ tier may reach.
	APIPort int `hcl:"api_port,optional" yaml:"api_port"`
	// BlockedPorts are the internal service ports explicitly denied
	// from the DMZ tier.
	BlockedPorts []int `hcl:"blocked_ports,optional" yaml:"blocked_ports"`

	// ProbeTargets are public host:port endpoints that must be
	// unreachable in sovereign mode.
	ProbeTargets []string `hcl:"probe_targets,optional" yaml:"probe_targets"`
	// DNSResolvers are public resolvers that must be unreachable in
	// sovereign mode.
	DNSResolvers []string `hcl:"dns_resolvers,optional" yaml:"dns_resolvers"`
	// InternalTarget is the loopback API URL that must stay reachable.
	InternalTarget string `hcl:"internal_target,optional" yaml:"internal_target"`
	// ProbeContainer is the core container the verify suite execs the
	// probe inside.
	ProbeContainer string `hcl:"probe_container,optional" yaml:"probe_container"`

	StateDir string `hcl:"state_dir,optional" yaml:"state_dir"`
	LockPath string `hcl:"lock_path,optional" yaml:"lock_path"`

	// CommandTimeoutSec bounds every external tool invocation.
	CommandTimeoutSec int `hcl:"command_timeout_sec,optional" yaml:"command_timeout_sec"`

	DockerBin    string `hcl:"docker_bin,optional" yaml:"docker_bin"`
	IptablesBin  string `hcl:"iptables_bin,optional" yaml:"iptables_bin"`
	Ip6tablesBin string `hcl:"ip6tables_bin,optional" yaml:"ip6tables_bin"`

	// StatusListen is the bind address of the read-only status endpoint.
	StatusListen string `hcl:"status_listen,optional" yaml:"status_listen"`
	// StatusURL is the backend status endpoint the verify suite compares
	// the persisted mode against.
	StatusURL string `hcl:"status_url,optional" yaml:"status_url"`
}

// Default paths and policy values.
const (
	DefaultConfigPath = "/etc/warden/warden.hcl"
	DefaultChain      = "DOCKER-USER"
	DefaultStateDir   = "/var/lib/warden"
	DefaultLockPath   = "/run/warden.lock"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Chain:              DefaultChain,
		CoreNetwork:        "warden_core",
		CoreNetworkPattern: "core",
		DMZNetwork:         "warden_dmz",
		DMZNetworkPattern:  "dmz",
		FallbackSubnet:     "172.20.0.0/16",
		APIPort:            8000,
		BlockedPorts:       []int{5432, 6379, 6333, 11434},
		ProbeTargets:       []string{"1.1.1.1:80", "8.8.8.8:80", "www.google.com:443"},
		DNSResolvers:       []string{"1.1.1.1:53", "8.8.8.8:53"},
		InternalTarget:     "http://127.0.0.1:8000/healthz",
		ProbeContainer:     "warden-core-api",
		StateDir:           DefaultStateDir,
		LockPath:           DefaultLockPath,
		CommandTimeoutSec:  10,
		DockerBin:          "docker",
		IptablesBin:        "iptables",
		Ip6tablesBin:       "ip6tables",
		StatusListen:       "127.0.0.1:9431",
		StatusURL:          "http://127.0.0.1:8000/api/status",
	}
}

// Validate checks the configuration for semantic errors.
func (c *Config) Validate() error {
	if c.Chain == "" {
		return fmt.Errorf("chain must not be empty")
	}
	if _, _, err := net.ParseCIDR(c.FallbackSubnet); err != nil {
		return fmt.Errorf("fallback_subnet %q is not a valid CIDR: %w", c.FallbackSubnet, err)
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api_port %d out of range", c.APIPort)
	}
	for _, p := range c.BlockedPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("blocked port %d out of range", p)
		}
		if p == c.APIPort {
			return fmt.Errorf("api_port %d cannot also be a blocked port", p)
		}
	}
	if c.CommandTimeoutSec <= 0 {
		return fmt.Errorf("command_timeout_sec must be positive")
	}
	return nil
}

// applyDefaults fills unset fields from the built-in configuration.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Chain == "" {
		c.Chain = def.Chain
	}
	if c.CoreNetwork == "" {
		c.CoreNetwork = def.CoreNetwork
	}
	if c.CoreNetworkPattern == "" {
		c.CoreNetworkPattern = def.CoreNetworkPattern
	}
	if c.DMZNetwork == "" {
		c.DMZNetwork = def.DMZNetwork
	}
	if c.DMZNetworkPattern == "" {
		c.DMZNetworkPattern = def.DMZNetworkPattern
	}
	if c.FallbackSubnet == "" {
		c.FallbackSubnet = def.FallbackSubnet
	}
	if c.APIPort == 0 {
		c.APIPort = def.APIPort
	}
	if len(c.BlockedPorts) == 0 {
		c.BlockedPorts = def.BlockedPorts
	}
	if len(c.ProbeTargets) == 0 {
		c.ProbeTargets = def.ProbeTargets
	}
	if len(c.DNSResolvers) == 0 {
		c.DNSResolvers = def.DNSResolvers
	}
	if c.InternalTarget == "" {
		c.InternalTarget = def.InternalTarget
	}
	if c.ProbeContainer == "" {
		c.ProbeContainer = def.ProbeContainer
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if c.LockPath == "" {
		c.LockPath = def.LockPath
	}
	if c.CommandTimeoutSec == 0 {
		c.CommandTimeoutSec = def.CommandTimeoutSec
	}
	if c.DockerBin == "" {
		c.DockerBin = def.DockerBin
	}
	if c.IptablesBin == "" {
		c.IptablesBin = def.IptablesBin
	}
	if c.Ip6tablesBin == "" {
		c.Ip6tablesBin = def.Ip6tablesBin
	}
	if c.StatusListen == "" {
		c.StatusListen = def.StatusListen
	}
	if c.StatusURL == "" {
		c.StatusURL = def.StatusURL
	}
}
