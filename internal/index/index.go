// index.go - bucketed hash table of file records, sorted on write
//
// Grounded on original_source/src/index.c (indexhash, indexput, indexlist,
// indexwrite, indexread) and the fixed-bucket-table design note in
// spec.md SS4.C/SS9. The hash function is reproduced bit-for-bit so the
// bucketing invariant in spec.md SS8 ("hash(r.path) mod B == bucket_index(r)")
// is directly testable against this implementation.

package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/opencoff/fsautoproc/internal/record"
)

// Buckets is the compile-time bucket count. spec.md notes both 16 and 64
// are attested in different revisions of the original program; this
// re-implementation follows the larger of the two.
const Buckets = 64

// MaxLineLen bounds a single serialized index line, matching the 512-byte
// buffer in original_source/src/index.c's indexread/indexwrite.
const MaxLineLen = 512

// ErrCommaInPath is returned by Write if a record's path contains a comma,
// which the line-oriented index format cannot represent unambiguously.
var ErrCommaInPath = errors.New("index: path contains comma, cannot serialize")

// ErrLineTooLong is returned by Write if a serialized line would exceed
// MaxLineLen. Read does not return it: a line longer than MaxLineLen ends
// parsing the same way a malformed line does.
var ErrLineTooLong = errors.New("index: line exceeds maximum length")

// Index is a fixed-bucket hash table of *record.Record keyed by path.
// It is not safe for concurrent mutation: per spec.md SS5, the producer
// (diffengine) is the sole writer of the live index while the pool is
// quiesced with respect to it.
type Index struct {
	buckets [Buckets][]*record.Record
	size    int
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// hash reproduces the C implementation's polynomial rolling hash:
// h := (h<<5) - h + c, folded to non-negative, modulo Buckets.
func hash(path string) int {
	h := 0
	for i := 0; i < len(path); i++ {
		h = (h << 5) - h + int(path[i])
	}
	if h < 0 {
		h = -h
	}
	return h % Buckets
}

// bucketOf returns the bucket index a path hashes to - used by the
// invariant tests (spec.md SS8: hash(path) mod B == bucket_index(record)).
func bucketOf(path string) int {
	return hash(path)
}

// BucketOf is the exported form of bucketOf, for tests outside this package.
func BucketOf(path string) int {
	return bucketOf(path)
}

// Find returns the record for path, or nil if absent.
func (ix *Index) Find(path string) *record.Record {
	b := ix.buckets[hash(path)]
	for _, r := range b {
		if r.Path == path {
			return r
		}
	}
	return nil
}

// Put inserts rec into its bucket. The caller must have already verified
// via Find that no record for this path exists; Put does not de-duplicate
// but is guaranteed not to corrupt Size if called twice with the same path
// (both copies are retained, consistent with spec.md SS4.C's unspecified-
// but-safe contract for duplicate Put).
func (ix *Index) Put(rec *record.Record) {
	b := hash(rec.Path)
	ix.buckets[b] = append(ix.buckets[b], rec)
	ix.size++
}

// Size returns the total number of records across all buckets.
func (ix *Index) Size() int {
	return ix.size
}

// List flattens all buckets into a single slice of records.
func (ix *Index) List() []*record.Record {
	out := make([]*record.Record, 0, ix.size)
	for _, b := range ix.buckets {
		out = append(out, b...)
	}
	return out
}

// Write flattens, sorts ascending by path, and serializes the index as
// "path,mtime_ms,size\n" lines.
func (ix *Index) Write(w io.Writer) error {
	list := ix.List()
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })

	bw := bufio.NewWriter(w)
	for _, r := range list {
		if strings.ContainsRune(r.Path, ',') {
			return fmt.Errorf("%w: %q", ErrCommaInPath, r.Path)
		}
		line := r.String() + "\n"
		if len(line) > MaxLineLen {
			return fmt.Errorf("%w: %q", ErrLineTooLong, r.Path)
		}
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read parses lines of the form "path,mtime_ms,size" from r and Puts each
// as a new record. Parsing stops at the first malformed line; records
// parsed so far are retained (spec.md SS9: "abort parsing and return the
// records parsed so far").
func (ix *Index) Read(r io.Reader) error {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, MaxLineLen)
	sc.Buffer(buf, MaxLineLen)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil
		}
		ix.Put(rec)
	}
	return nil
}

func parseLine(line string) (*record.Record, error) {
	i := strings.LastIndexByte(line, ',')
	if i < 0 {
		return nil, fmt.Errorf("index: malformed line %q", line)
	}
	j := strings.LastIndexByte(line[:i], ',')
	if j < 0 {
		return nil, fmt.Errorf("index: malformed line %q", line)
	}

	path := line[:j]
	if path == "" {
		return nil, fmt.Errorf("index: malformed line %q", line)
	}

	mtime, err := strconv.ParseUint(line[j+1:i], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("index: malformed mtime in line %q: %w", line, err)
	}
	size, err := strconv.ParseUint(line[i+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("index: malformed size in line %q: %w", line, err)
	}

	return record.New(path, record.Stat{MtimeMs: mtime, Size: size}), nil
}
