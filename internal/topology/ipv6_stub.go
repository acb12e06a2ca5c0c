//go:build !linux

package topology

// hostIPv6Active is a stub for non-Linux builds.
func hostIPv6Active() (bool, error) {
	return false, nil
}
