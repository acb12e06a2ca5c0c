// Package lock provides the mutual-exclusion guard that serializes every
// rule-mutating command. The kernel rule table is one global critical
// section: two concurrent applies must never interleave.
package lock

import (
	"errors"
	"time"
)

// Defaults for lock acquisition.
const (
	DefaultAttempts = 30
	DefaultInterval = time.Second
)

// ErrTimeout means another mutation held the lock for the whole wait window.
// The caller should retry later; warden never force-breaks a lock held
// by another live process.
var ErrTimeout = errors.New("another warden operation is in progress (lock wait timed out)")

// Guard is a held lock. Release it with Release, normally via defer so
// that every exit path, including panics, lets the next invocation in.
type Guard interface {
	Release()
}

// Options configures acquisition.
type Options struct {
	Path     string
	Attempts int
	Interval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
}
