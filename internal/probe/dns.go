package probe

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// probeQuestion is an innocuous name whose resolution proves only that
// the resolver was reachable, which is all the probe cares about.
const probeQuestion = "example.com."

// dnsProbe sends one A query to a public resolver. A blocked resolver
// manifests as a timeout.
func (p *Prober) dnsProbe(ctx context.Context, resolver string) Result {
	start := time.Now()
	res := Result{Target: resolver, Mechanism: MechDNS}

	m := new(dns.Msg)
	m.SetQuestion(probeQuestion, dns.TypeA)

	c := &dns.Client{Timeout: perAttemptTimeout}
	_, _, err := c.ExchangeContext(ctx, m, resolver)
	if err != nil {
		res.Detail = err.Error()
	} else {
		res.Reached = true
	}
	res.Elapsed = time.Since(start)
	return res
}
