package ruletable

import (
	"strconv"
)

// TagPrefix marks every rule warden owns. It is rendered as an iptables
// comment, e.g. "warden:sovereign-drop-all".
const TagPrefix = "warden:"

// Action is the verdict a rule applies to matching traffic.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionDrop   Action = "DROP"
)

// Rule is one entry destined for a kernel chain.
type Rule struct {
	Chain       string
	Position    int // 1-based insert position; 0 means append
	Protocol    string
	Source      string // source CIDR
	Destination string // destination CIDR
	DestPort    int
	CtState     string // conntrack states, e.g. "ESTABLISHED,RELATED"
	Action      Action
	Tag         string // owner tag group, stored without TagPrefix
}

// Comment returns the full owner comment for the rule.
func (r Rule) Comment() string {
	return TagPrefix + r.Tag
}

// matchArgs renders the match portion of the rule as iptables arguments,
// excluding the chain/position and jump target.
func (r Rule) matchArgs() []string {
	var args []string
	if r.Source != "" {
		args = append(args, "-s", r.Source)
	}
	if r.Destination != "" {
		args = append(args, "-d", r.Destination)
	}
	if r.Protocol != "" {
		args = append(args, "-p", r.Protocol)
	}
	if r.DestPort != 0 {
		args = append(args, "--dport", strconv.Itoa(r.DestPort))
	}
	if r.CtState != "" {
		args = append(args, "-m", "conntrack", "--ctstate", r.CtState)
	}
	args = append(args, "-m", "comment", "--comment", r.Comment())
	return args
}

// insertArgs renders the full argument list for inserting the rule.
func (r Rule) insertArgs() []string {
	pos := r.Position
	if pos <= 0 {
		pos = 1
	}
	args := []string{"-I", r.Chain, strconv.Itoa(pos)}
	args = append(args, r.matchArgs()...)
	return append(args, "-j", string(r.Action))
}

// appendArgs renders the full argument list for appending the rule.
func (r Rule) appendArgs() []string {
	args := []string{"-A", r.Chain}
	args = append(args, r.matchArgs()...)
	return append(args, "-j", string(r.Action))
}
