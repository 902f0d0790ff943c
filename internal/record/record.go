// record.go - file identity record
//
// Grounded on github.com/opencoff/go-fio's info.go (fio.Info/fio.Statm),
// trimmed down to the (path, mtime, size) identity fsautoproc requires.

package record

import (
	"fmt"
	"os"
	"sync"
)

// Stat is the comparable identity of a file: millisecond-resolution
// modification time and size in bytes. No content hashing is performed.
type Stat struct {
	MtimeMs uint64
	Size    uint64
}

// Equal reports whether two Stat values are identical.
func (s Stat) Equal(o Stat) bool {
	return s.MtimeMs == o.MtimeMs && s.Size == o.Size
}

// Record is a single entry in a file index: a path and its last observed
// Stat. The Path field is immutable for the lifetime of the Record; Stat
// may be refreshed in place by the Stage-3 post-pass or by a worker that
// just finished running commands for this record.
type Record struct {
	Path string

	mu   sync.Mutex
	stat Stat
}

// New allocates a Record for path with the given stat.
func New(path string, st Stat) *Record {
	return &Record{Path: path, stat: st}
}

// Stat returns the record's current stat, safe for concurrent readers.
func (r *Record) Stat() Stat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stat
}

// SetStat updates the record's stat in place. Only the diffengine
// producer (Stage 3) or the pool worker that owns this record's request
// may call this - see internal/pool's barrier discussion.
func (r *Record) SetStat(st Stat) {
	r.mu.Lock()
	r.stat = st
	r.mu.Unlock()
}

// String renders the record the way the index writes it on disk.
func (r *Record) String() string {
	st := r.Stat()
	return fmt.Sprintf("%s,%d,%d", r.Path, st.MtimeMs, st.Size)
}

// StatPath stats the file at path and returns its Stat identity.
// Any stat(2) error is returned to the caller unwrapped so callers can
// test it with os.IsNotExist etc.
func StatPath(path string) (Stat, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		MtimeMs: uint64(fi.ModTime().UnixMilli()),
		Size:    uint64(fi.Size()),
	}, nil
}
