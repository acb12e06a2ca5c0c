//go:build linux

package topology

import (
	"github.com/vishvananda/netlink"
)

// hostIPv6Active reports whether any interface carries a globally
// routable IPv6 address. ULA and link-local addresses do not count:
// only a global address makes IPv6 egress a real bypass risk.
func hostIPv6Active() (bool, error) {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V6)
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		ip := a.IP
		if !ip.IsGlobalUnicast() {
			continue
		}
		if isULA(ip) {
			continue
		}
		return true, nil
	}
	return false, nil
}
