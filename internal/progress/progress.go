// progress.go - console progress bar and the junk-file filter glue
//
// Grounded on the `[j]`/`[s]` verbose log-line conventions of
// original_source/src/main.c (filterjunk, onnotify -> printprogbar) and
// the "Progress / glue" component of spec.md SS2.

package progress

import (
	"fmt"
	"io"

	"github.com/opencoff/fsautoproc/internal/cmdset"
)

// Bar renders a single rewriting progress line of the form
// "scanned <seen>/<total>" to w, matching the original program's
// printprogbar callback invoked on every DirDone notification.
type Bar struct {
	w io.Writer
}

// New returns a Bar that writes to w.
func New(w io.Writer) *Bar {
	return &Bar{w: w}
}

// Update rewrites the progress line in place.
func (b *Bar) Update(seen, total int) {
	fmt.Fprintf(b.w, "\rscanned %d/%d", seen, total)
}

// Done terminates the progress line with a newline.
func (b *Bar) Done() {
	fmt.Fprintln(b.w)
}

// JunkFilter returns a diffengine.Filter that excludes files matching no
// configured command-set pattern, unless includeJunk is set. logJunk is
// called (if non-nil) for every path actually filtered out, so the driver
// can emit the verbose "[j] <path>" log line spec.md SS7 specifies.
func JunkFilter(sets []*cmdset.Set, includeJunk bool, logJunk func(path string)) func(path string) bool {
	return func(path string) bool {
		if includeJunk {
			return false
		}
		junk := !cmdset.MatchAny(sets, path)
		if junk && logJunk != nil {
			logJunk(path)
		}
		return junk
	}
}
