package engine

import (
	"github.com/cloisterhq/warden/internal/config"
	"github.com/cloisterhq/warden/internal/ruletable"
)

// Owner tag groups. The tag is the only selector removal ever uses.
const (
	TagEstablished = "sovereign-established"
	TagLoopback    = "sovereign-loopback"
	TagPrivate10   = "sovereign-private-10"
	TagPrivate172  = "sovereign-private-172"
	TagPrivate192  = "sovereign-private-192"
	TagDropAll     = "sovereign-drop-all"

	Tag6Established = "sovereign6-established"
	Tag6Loopback    = "sovereign6-loopback"
	Tag6ULA         = "sovereign6-ula"
	Tag6DropAll     = "sovereign6-drop-all"

	TagDMZAllowAPI    = "dmz-allow-api"
	TagDMZBlockPrefix = "dmz-block-"
)

// sovereignV4Rules is the exact ordered IPv4 policy for protected subnet
// s: return traffic for established flows, loopback, the RFC1918 ranges,
// then the fail-closed drop. The chain evaluates top-to-bottom with
// first-match-wins, so the accepts must precede the final drop.
func sovereignV4Rules(chain, s string) []ruletable.Rule {
	return []ruletable.Rule{
		{Chain: chain, Source: s, CtState: "ESTABLISHED,RELATED", Action: ruletable.ActionAccept, Tag: TagEstablished},
		{Chain: chain, Source: s, Destination: "127.0.0.0/8", Action: ruletable.ActionAccept, Tag: TagLoopback},
		{Chain: chain, Source: s, Destination: "10.0.0.0/8", Action: ruletable.ActionAccept, Tag: TagPrivate10},
		{Chain: chain, Source: s, Destination: "172.16.0.0/12", Action: ruletable.ActionAccept, Tag: TagPrivate172},
		{Chain: chain, Source: s, Destination: "192.168.0.0/16", Action: ruletable.ActionAccept, Tag: TagPrivate192},
		{Chain: chain, Source: s, Action: ruletable.ActionDrop, Tag: TagDropAll},
	}
}

// sovereignV6Rules mirrors the IPv4 policy with ULA space and the IPv6
// loopback standing in for RFC1918 and 127.0.0.0/8.
func sovereignV6Rules(chain, s string) []ruletable.Rule {
	return []ruletable.Rule{
		{Chain: chain, Source: s, CtState: "ESTABLISHED,RELATED", Action: ruletable.ActionAccept, Tag: Tag6Established},
		{Chain: chain, Source: s, Destination: "::1/128", Action: ruletable.ActionAccept, Tag: Tag6Loopback},
		{Chain: chain, Source: s, Destination: "fc00::/7", Action: ruletable.ActionAccept, Tag: Tag6ULA},
		{Chain: chain, Source: s, Action: ruletable.ActionDrop, Tag: Tag6DropAll},
	}
}

// dmzRules is the DMZ→core allow-list: exactly one accepted API port,
// then a drop per enumerated internal service port. Ports not enumerated
// here fall through to the core sovereign policy, never to an implicit
// DMZ allow.
func dmzRules(cfg *config.Config, dmzSubnet, coreSubnet string) []ruletable.Rule {
	rules := []ruletable.Rule{
		{Chain: cfg.Chain, Source: dmzSubnet, Destination: coreSubnet,
			Protocol: "tcp", DestPort: cfg.APIPort,
			Action: ruletable.ActionAccept, Tag: TagDMZAllowAPI},
	}
	for _, port := range cfg.BlockedPorts {
		rules = append(rules, ruletable.Rule{
			Chain: cfg.Chain, Source: dmzSubnet, Destination: coreSubnet,
			Protocol: "tcp", DestPort: port,
			Action: ruletable.ActionDrop, Tag: TagDMZBlockPrefix + serviceName(port),
		})
	}
	return rules
}
