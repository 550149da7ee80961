// Package lockfile guards against running two instances against the same
// camera. A second process talking PTP to the body corrupts the session,
// so startup takes an exclusive flock and holds it for the process lifetime.
package lockfile

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Lock is a held exclusive file lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes a non-blocking exclusive lock on path. It fails fast when
// another instance holds the lock.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another instance is already running (lock %s): %w", path, err)
	}

	// Record the holder's PID for operators; lock correctness comes from
	// flock, not from the file contents.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Lock{path: path, file: f}, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return closeErr
}
