//go:build linux

package osthread

import "golang.org/x/sys/unix"

// Current returns the kernel id of the calling OS thread. The result is only
// stable while the goroutine is locked with runtime.LockOSThread.
func Current() int64 {
	return int64(unix.Gettid())
}
