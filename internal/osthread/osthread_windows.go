//go:build windows

package osthread

import "golang.org/x/sys/windows"

// Current returns the id of the calling OS thread. The result is only stable
// while the goroutine is locked with runtime.LockOSThread.
func Current() int64 {
	return int64(windows.GetCurrentThreadId())
}
