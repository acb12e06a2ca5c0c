// Package state persists warden's enforcement posture: current mode,
// protected subnets, and the time of the last change.
//
// The record is written as a whole or not at all, and only after rule
// application has fully succeeded. A missing state file is the normal
// first-run condition, not an error.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloisterhq/warden/internal/clock"
)

// Mode is the enforcement posture.
type Mode string

const (
	ModeSovereign Mode = "sovereign"
	ModeConnected Mode = "connected"
	ModeUnknown   Mode = "unknown"
)

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sovereign":
		return ModeSovereign, nil
	case "connected":
		return ModeConnected, nil
	default:
		return ModeUnknown, fmt.Errorf("unknown mode %q (want sovereign or connected)", s)
	}
}

// FirewallState is the persisted posture record.
type FirewallState struct {
	Mode              Mode
	ProtectedSubnetV4 string
	ProtectedSubnetV6 string
	DMZSubnet         string
	LastChanged       time.Time
}

const (
	stateFileName = "state"
	logFileName   = "transitions.log"
)

// Store reads and writes the state file and appends to the transition log.
type Store struct {
	dir   string
	clock clock.Clock
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, clock: &clock.RealClock{}}
}

// NewStoreWithClock returns a store with an injected time source.
func NewStoreWithClock(dir string, clk clock.Clock) *Store {
	return &Store{dir: dir, clock: clk}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Read loads the current state. A missing file yields mode Unknown.
func (s *Store) Read() (*FirewallState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &FirewallState{Mode: ModeUnknown}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return parse(string(data))
}

// Write atomically replaces the state file and appends a transition
// record. The full record is composed before anything touches disk.
func (s *Store) Write(st *FirewallState) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if st.LastChanged.IsZero() {
		st.LastChanged = s.clock.Now()
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(render(st)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.appendTransition(st)
	return nil
}

// Reset removes the state file and records the reset, returning the
// store to the first-run Unknown condition.
func (s *Store) Reset() error {
	err := os.Remove(s.Path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	s.appendTransition(&FirewallState{Mode: ModeUnknown, LastChanged: s.clock.Now()})
	return nil
}

// render produces the three-line state file: mode, comma-joined subnets,
// RFC3339 timestamp.
func render(st *FirewallState) string {
	subnets := []string{}
	if st.ProtectedSubnetV4 != "" {
		subnets = append(subnets, st.ProtectedSubnetV4)
	}
	if st.ProtectedSubnetV6 != "" {
		subnets = append(subnets, st.ProtectedSubnetV6)
	}
	if st.DMZSubnet != "" {
		subnets = append(subnets, "dmz="+st.DMZSubnet)
	}
	return fmt.Sprintf("%s\n%s\n%s\n",
		st.Mode,
		strings.Join(subnets, ","),
		st.LastChanged.UTC().Format(time.RFC3339))
}

// parse is the inverse of render, tolerant of a trailing newline.
func parse(data string) (*FirewallState, error) {
	lines := strings.Split(strings.TrimRight(data, "\n"), "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("state file malformed: want 3 lines, got %d", len(lines))
	}

	st := &FirewallState{}
	mode, err := ParseMode(lines[0])
	if err != nil {
		st.Mode = ModeUnknown
	} else {
		st.Mode = mode
	}

	for _, field := range strings.Split(lines[1], ",") {
		field = strings.TrimSpace(field)
		switch {
		case field == "":
		case strings.HasPrefix(field, "dmz="):
			st.DMZSubnet = strings.TrimPrefix(field, "dmz=")
		case strings.Contains(field, ":"):
			st.ProtectedSubnetV6 = field
		default:
			st.ProtectedSubnetV4 = field
		}
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[2]))
	if err != nil {
		return nil, fmt.Errorf("state file timestamp malformed: %w", err)
	}
	st.LastChanged = ts

	return st, nil
}

// appendTransition records the change in the write-only transition log.
// The log is for operators; it is never parsed back, so failures here
// are deliberately not propagated.
func (s *Store) appendTransition(st *FirewallState) {
	f, err := os.OpenFile(filepath.Join(s.dir, logFileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s mode=%s v4=%s v6=%s dmz=%s\n",
		s.clock.Now().UTC().Format(time.RFC3339),
		st.Mode, orDash(st.ProtectedSubnetV4), orDash(st.ProtectedSubnetV6), orDash(st.DMZSubnet))
	_, _ = f.WriteString(line)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
