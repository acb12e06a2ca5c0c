//go:build !linux

package lock

import "errors"

// Acquire is a stub for non-Linux builds; warden only enforces on Linux.
func Acquire(opts Options) (Guard, error) {
	return nil, errors.New("lock: unsupported platform")
}
