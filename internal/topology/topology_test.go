package topology

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/ruletable"
)

func newTestDetector(t *testing.T, runner ruletable.Runner) *Detector {
	t.Helper()
	d := NewDetector(config.DefaultConfig(), runner)
	d.SetIPv6Probe(func() (bool, error) { return false, nil })
	return d
}

func inspectJSON(subnets ...string) []byte {
	out := "["
	for i, s := range subnets {
		if i > 0 {
			out += ","
		}
		out += `{"Subnet":"` + s + `"}`
	}
	return []byte(out + "]\n")
}

func TestDetect_ExactNetworkName(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("172.20.0.0/16"), nil)
	runner.On("Output", "docker",
		"network", "inspect", "warden_dmz", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("no such network"))
	runner.On("Output", "docker",
		"network", "ls", "--format", "{{.Name}}").
		Return([]byte("bridge\nhost\n"), nil)

	topo := newTestDetector(t, runner).Detect(context.Background())

	assert.Equal(t, "172.20.0.0/16", topo.CoreV4)
	assert.Empty(t, topo.CoreV6)
	assert.Equal(t, MethodExact, topo.Method)
	assert.False(t, topo.HasDMZ())
	assert.False(t, topo.IPv6Active)
}

func TestDetect_ExactNameWithIPv6Subnet(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("172.20.0.0/16", "fd00:20::/64"), nil)
	runner.On("Output", "docker",
		"network", "inspect", "warden_dmz", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("no such network"))
	runner.On("Output", "docker",
		"network", "ls", "--format", "{{.Name}}").
		Return([]byte(""), nil)

	topo := newTestDetector(t, runner).Detect(context.Background())

	assert.Equal(t, "172.20.0.0/16", topo.CoreV4)
	assert.Equal(t, "fd00:20::/64", topo.CoreV6)
}

func TestDetect_PatternScan(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("no such network"))
	runner.On("Output", "docker",
		"network", "ls", "--format", "{{.Name}}").
		Return([]byte("bridge\nmyapp_core_net\nmyapp_dmz_net\n"), nil)
	runner.On("Output", "docker",
		"network", "inspect", "myapp_core_net", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("172.22.0.0/16"), nil)
	runner.On("Output", "docker",
		"network", "inspect", "warden_dmz", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("no such network"))
	runner.On("Output", "docker",
		"network", "inspect", "myapp_dmz_net", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("172.23.0.0/16"), nil)

	topo := newTestDetector(t, runner).Detect(context.Background())

	assert.Equal(t, "172.22.0.0/16", topo.CoreV4)
	assert.Equal(t, MethodPattern, topo.Method)
	assert.Equal(t, "172.23.0.0/16", topo.DMZ)
	assert.True(t, topo.HasDMZ())
}

func TestDetect_FallbackWhenRuntimeUnreachable(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("cannot connect to the docker daemon"))
	runner.On("Output", "docker",
		"network", "inspect", "warden_dmz", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("cannot connect to the docker daemon"))
	runner.On("Output", "docker",
		"network", "ls", "--format", "{{.Name}}").
		Return(nil, errors.New("cannot connect to the docker daemon"))

	topo := newTestDetector(t, runner).Detect(context.Background())

	// Detection never fails outright: the fallback protects something
	// rather than nothing, flagged for the caller to surface.
	assert.Equal(t, "172.20.0.0/16", topo.CoreV4)
	assert.Equal(t, MethodFallback, topo.Method)
	assert.False(t, topo.HasDMZ())
}

func TestDetect_IPv6ProbeResult(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("172.20.0.0/16"), nil)
	runner.On("Output", "docker",
		"network", "inspect", "warden_dmz", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("no such network"))
	runner.On("Output", "docker",
		"network", "ls", "--format", "{{.Name}}").
		Return([]byte(""), nil)

	d := newTestDetector(t, runner)
	d.SetIPv6Probe(func() (bool, error) { return true, nil })

	topo := d.Detect(context.Background())
	assert.True(t, topo.IPv6Active)
}

func TestDetect_IPv6ProbeErrorAssumesActive(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("172.20.0.0/16"), nil)
	runner.On("Output", "docker",
		"network", "inspect", "warden_dmz", "--format", "{{json .IPAM.Config}}").
		Return(nil, errors.New("no such network"))
	runner.On("Output", "docker",
		"network", "ls", "--format", "{{.Name}}").
		Return([]byte(""), nil)

	d := newTestDetector(t, runner)
	d.SetIPv6Probe(func() (bool, error) { return false, errors.New("netlink: permission denied") })

	topo := d.Detect(context.Background())
	assert.True(t, topo.IPv6Active,
		"an undeterminable IPv6 state must enforce, not assume the family is off")
}

func TestInspectSubnets_MalformedJSON(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return([]byte("null garbage"), nil)

	d := newTestDetector(t, runner)
	_, _, ok := d.inspectSubnets(context.Background(), "warden_core")
	assert.False(t, ok)
}

func TestInspectSubnets_IPv6OnlyNetworkRejected(t *testing.T) {
	runner := new(ruletable.MockRunner)
	runner.On("Output", "docker",
		"network", "inspect", "warden_core", "--format", "{{json .IPAM.Config}}").
		Return(inspectJSON("fd00:20::/64"), nil)

	d := newTestDetector(t, runner)
	_, _, ok := d.inspectSubnets(context.Background(), "warden_core")
	assert.False(t, ok, "a network without an IPv4 subnet cannot anchor the policy")
}

func TestIsULA(t *testing.T) {
	assert.True(t, isULA(net.ParseIP("fd00::1")))
	assert.True(t, isULA(net.ParseIP("fc12::1")))
	assert.False(t, isULA(net.ParseIP("2001:db8::1")))
	assert.False(t, isULA(net.ParseIP("fe80::1")))
	assert.False(t, isULA(net.ParseIP("192.0.2.1")))
}
