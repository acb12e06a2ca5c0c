package ruletable

import (
	"context"
	"net"
	"sync"
)

// Fake is an in-memory Client for tests. It keeps ordered rules per chain
// and can simulate first-match-wins packet evaluation, so engine ordering
// and idempotency logic is testable without root or a real kernel table.
type Fake struct {
	mu        sync.Mutex
	available bool
	chains    map[string][]Rule

	// InsertErr, when set, is returned by the next Insert call.
	InsertErr error
}

// NewFake returns an available in-memory client with no chains.
func NewFake() *Fake {
	return &Fake{
		available: true,
		chains:    make(map[string][]Rule),
	}
}

// SetAvailable toggles tool availability, simulating a missing binary.
func (f *Fake) SetAvailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

func (f *Fake) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *Fake) EnsureChain(ctx context.Context, chain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chains[chain]; !ok {
		f.chains[chain] = nil
	}
	return nil
}

func (f *Fake) Insert(ctx context.Context, r Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		err := f.InsertErr
		f.InsertErr = nil
		return err
	}
	rules := f.chains[r.Chain]
	pos := r.Position
	if pos <= 0 {
		pos = 1
	}
	if pos > len(rules)+1 {
		pos = len(rules) + 1
	}
	idx := pos - 1
	rules = append(rules[:idx], append([]Rule{r}, rules[idx:]...)...)
	f.chains[r.Chain] = rules
	return nil
}

func (f *Fake) Append(ctx context.Context, r Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		err := f.InsertErr
		f.InsertErr = nil
		return err
	}
	f.chains[r.Chain] = append(f.chains[r.Chain], r)
	return nil
}

func (f *Fake) List(ctx context.Context, chain string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lines []string
	for _, r := range f.chains[chain] {
		lines = append(lines, "-A "+chain+" --comment "+r.Comment()+" -j "+string(r.Action))
	}
	return lines, nil
}

func (f *Fake) DeleteTagged(ctx context.Context, chain string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []Rule
	removed := 0
	for _, r := range f.chains[chain] {
		if r.Tag != "" {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	f.chains[chain] = kept
	return removed, nil
}

func (f *Fake) CountTagged(ctx context.Context, chain string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.chains[chain] {
		if r.Tag != "" {
			n++
		}
	}
	return n, nil
}

// Rules returns a copy of the chain's rules in evaluation order.
func (f *Fake) Rules(chain string) []Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Rule, len(f.chains[chain]))
	copy(out, f.chains[chain])
	return out
}

// Packet is a simulated flow for first-match evaluation.
type Packet struct {
	SrcIP       string
	DstIP       string
	Protocol    string
	DstPort     int
	Established bool
}

// FirstMatch evaluates the chain top-to-bottom against the packet and
// returns the verdict of the first matching rule. The bool reports whether
// any rule matched.
func (f *Fake) FirstMatch(chain string, p Packet) (Action, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.chains[chain] {
		if ruleMatches(r, p) {
			return r.Action, true
		}
	}
	return "", false
}

func ruleMatches(r Rule, p Packet) bool {
	if r.CtState != "" && !p.Established {
		return false
	}
	if r.Protocol != "" && r.Protocol != p.Protocol {
		return false
	}
	if r.DestPort != 0 && r.DestPort != p.DstPort {
		return false
	}
	if !cidrContains(r.Source, p.SrcIP) {
		return false
	}
	if !cidrContains(r.Destination, p.DstIP) {
		return false
	}
	return true
}

func cidrContains(cidr, ip string) bool {
	if cidr == "" {
		return true
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	return network.Contains(addr)
}
