//go:build !linux && !windows

package osthread

// Current returns 0: there is no portable thread id on this platform.
// Callers treat 0 as an unknown identity and must not share state under it.
func Current() int64 {
	return 0
}
