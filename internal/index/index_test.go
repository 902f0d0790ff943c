package index

import (
	"bytes"
	"strings"
	"testing"

	"github.com/opencoff/fsautoproc/internal/record"
)

func TestBucketInvariant(t *testing.T) {
	paths := []string{"a.txt", "sub/b.txt", "sub/c.txt", "x", "y", "z", "w"}
	ix := New()
	for _, p := range paths {
		ix.Put(record.New(p, record.Stat{MtimeMs: 1, Size: 2}))
	}

	for bi, b := range ix.buckets {
		for _, r := range b {
			if got := BucketOf(r.Path); got != bi {
				t.Fatalf("bucket invariant broken for %q: got %d want %d", r.Path, got, bi)
			}
		}
	}

	if ix.Size() != len(paths) {
		t.Fatalf("size mismatch: got %d want %d", ix.Size(), len(paths))
	}

	var sum int
	for _, b := range ix.buckets {
		sum += len(b)
	}
	if sum != ix.Size() {
		t.Fatalf("size != sum of chain lengths: %d vs %d", ix.Size(), sum)
	}
}

func TestFindPut(t *testing.T) {
	ix := New()
	if ix.Find("missing") != nil {
		t.Fatal("expected nil for missing path")
	}

	ix.Put(record.New("a", record.Stat{MtimeMs: 10, Size: 20}))
	r := ix.Find("a")
	if r == nil {
		t.Fatal("expected to find a")
	}
	if r.Stat().MtimeMs != 10 || r.Stat().Size != 20 {
		t.Fatalf("unexpected stat: %+v", r.Stat())
	}
}

func TestWriteSorted(t *testing.T) {
	ix := New()
	for _, p := range []string{"zeta", "alpha", "mu"} {
		ix.Put(record.New(p, record.Stat{MtimeMs: 1, Size: 1}))
	}

	var buf bytes.Buffer
	if err := ix.Write(&buf); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{"alpha,1,1", "mu,1,1", "zeta,1,1"}
	for i, l := range lines {
		if l != want[i] {
			t.Fatalf("line %d: got %q want %q", i, l, want[i])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	ix := New()
	ix.Put(record.New("a.txt", record.Stat{MtimeMs: 111, Size: 222}))
	ix.Put(record.New("sub/b.txt", record.Stat{MtimeMs: 333, Size: 444}))

	var buf bytes.Buffer
	if err := ix.Write(&buf); err != nil {
		t.Fatal(err)
	}

	ix2 := New()
	if err := ix2.Read(&buf); err != nil {
		t.Fatal(err)
	}

	if ix2.Size() != ix.Size() {
		t.Fatalf("round trip size mismatch: %d vs %d", ix2.Size(), ix.Size())
	}
	for _, r := range ix.List() {
		r2 := ix2.Find(r.Path)
		if r2 == nil {
			t.Fatalf("missing %q after round trip", r.Path)
		}
		if r2.Stat() != r.Stat() {
			t.Fatalf("stat mismatch for %q: %+v vs %+v", r.Path, r2.Stat(), r.Stat())
		}
	}
}

func TestReadStopsAtMalformedLine(t *testing.T) {
	data := "a,1,2\nb,3,4\nBOGUS LINE\nc,5,6\n"
	ix := New()
	if err := ix.Read(strings.NewReader(data)); err != nil {
		t.Fatal(err)
	}

	if ix.Size() != 2 {
		t.Fatalf("expected parsing to stop at malformed line, got size %d", ix.Size())
	}
	if ix.Find("a") == nil || ix.Find("b") == nil {
		t.Fatal("expected a and b to be retained")
	}
	if ix.Find("c") != nil {
		t.Fatal("expected c to not be parsed (after malformed line)")
	}
}

func TestWriteRejectsCommaInPath(t *testing.T) {
	ix := New()
	ix.Put(record.New("has,comma", record.Stat{MtimeMs: 1, Size: 1}))

	var buf bytes.Buffer
	err := ix.Write(&buf)
	if err == nil {
		t.Fatal("expected error for comma in path")
	}
}
