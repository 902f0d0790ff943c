// safefile.go - atomic file replacement via a temp file + rename
//
// Adapted from github.com/opencoff/go-fio's safefile.go, trimmed of its
// copy-on-write and xattr-preservation options (not part of this
// program's domain): the index file must never be left truncated or
// half-written if a run is interrupted mid-write.

package safefile

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// File is an io.WriteCloser backed by a temporary file in the same
// directory as the target; Close() fsyncs and atomically renames it
// into place, Abort() discards it. The zero value is not usable; use
// New.
type File struct {
	*os.File

	err    error
	name   string
	closed atomic.Int64 // 0 open, <0 aborted, >0 closed
}

var _ io.WriteCloser = &File{}

// New creates a temp file next to name that will be renamed onto name
// when Close succeeds, or removed on Abort.
func New(name string, perm os.FileMode) (*File, error) {
	tmp := fmt.Sprintf("%s.tmp.%d.%x", name, os.Getpid(), randU32())
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("safefile: %w", err)
	}
	return &File{File: fd, name: name}, nil
}

func (sf *File) isOpen() bool {
	return sf.closed.Load() == 0
}

// Write fails fast once a previous write has errored or the file is
// no longer open.
func (sf *File) Write(b []byte) (int, error) {
	if sf.err != nil {
		return 0, sf.err
	}
	if !sf.isOpen() {
		return 0, fmt.Errorf("safefile: %s is not open", sf.Name())
	}
	n, err := sf.File.Write(b)
	if err != nil {
		sf.err = fmt.Errorf("safefile: %w", err)
	}
	return n, sf.err
}

// Abort discards the temp file, retaining any earlier write error. It
// is safe to call after Close; the first of the two wins.
func (sf *File) Abort() {
	if n := sf.closed.Load(); n != 0 {
		return
	}
	sf.File.Close()
	os.Remove(sf.File.Name())
	sf.closed.Store(-1)
}

// Close fsyncs, closes, and renames the temp file onto the final name.
// On any prior write error it aborts instead and returns that error.
func (sf *File) Close() error {
	if sf.err != nil {
		sf.Abort()
		return sf.err
	}
	if sf.closed.Load() != 0 {
		return sf.err
	}

	if err := sf.Sync(); err != nil {
		sf.err = err
		sf.Abort()
		return err
	}
	tmpName := sf.File.Name()
	if err := sf.File.Close(); err != nil {
		sf.err = err
		return err
	}
	if err := os.Rename(tmpName, sf.name); err != nil {
		sf.err = err
		return err
	}
	sf.closed.Store(1)
	return nil
}

func randU32() uint32 {
	var b [4]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic(fmt.Sprintf("safefile: can't read random bytes: %s", err))
	}
	return binary.LittleEndian.Uint32(b[:])
}
