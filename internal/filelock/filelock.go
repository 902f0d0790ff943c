// filelock.go - whole-process exclusive lock on a lockfile
//
// Grounded on original_source/src/fl.c (flopen, fllock, flunlock) using
// stdlib syscall.Flock, the same non-blocking-exclusive-flock idiom seen
// broadly across the retrieval pack's lockfile-contention handling.

package filelock

import (
	"fmt"
	"os"
	"syscall"
)

// Lock represents an acquired exclusive lock on a file.
type Lock struct {
	path string
	f    *os.File
}

// Acquire opens (creating/truncating) the file at path and takes an
// exclusive, non-blocking flock(2) on it. A failure to acquire means
// another instance may already be running.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %q: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: %q is held by another instance: %w", path, err)
	}

	return &Lock{path: path, f: f}, nil
}

// Release unlocks, closes, and removes the lockfile.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && err == nil {
		err = rmErr
	}
	l.f = nil
	return err
}
