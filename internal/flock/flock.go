// Package flock provides a single-instance PID lock so two warden
// daemons never drive the same mux sessions concurrently.
package flock

import (
	"fmt"
	"os"
	"syscall"
)

// Acquire takes an exclusive, non-blocking lock on path, creating it if
// necessary, and stamps it with the current PID for operator debugging.
// The returned file must be kept open for the process lifetime and
// passed to Release on shutdown.
func Acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("flock: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another warden instance is already running (lock: %s)", path)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return f, nil
}

// Release unlocks and removes the lock file.
func Release(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	name := f.Name()
	f.Close()
	os.Remove(name)
}
