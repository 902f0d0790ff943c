// lcmd.go - match-and-invoke command execution
//
// Grounded on original_source/src/lcmd.c (lcmdinvoke, lcmdexec), replacing
// fork+dup2+system(3) with os/exec's Cmd.Stdout/Stderr/Env, which is the
// idiomatic Go spawn-with-redirected-fds equivalent spec.md SS9 calls out
// ("a spawn-style API that accepts pre-opened stdout/stderr file handles
// is equivalent").

package lcmd

import (
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/opencoff/fsautoproc/internal/cmdset"
	"github.com/opencoff/fsautoproc/internal/record"
	"github.com/opencoff/go-logger"
)

// Fds is the pair of output streams a command's stdout/stderr are
// redirected to - either the process's own, or a worker's private log
// files (see internal/pool).
type Fds struct {
	Out io.Writer
	Err io.Writer
}

// Exec matches rec.Path against each set in order and, for every set whose
// OnFlags intersect flags and whose patterns match, runs its commands in
// order. The first non-zero exit aborts remaining commands of that set and
// all subsequent sets; the error is returned to the caller. If Trace is
// set, matching is reported but nothing is executed. If Verbose is set,
// each command is logged before it runs.
func Exec(sets []*cmdset.Set, rec *record.Record, fds Fds, flags cmdset.Trigger, log logger.Logger) error {
	trace := flags&cmdset.Trace != 0
	verbose := flags&cmdset.Verbose != 0

	for i, s := range sets {
		if s.OnFlags&flags == 0 {
			if trace {
				log.Info("cmdset %d (%s) ignored flags: %v", i, s.Name, flags)
			}
			continue
		}
		if !s.Matches(rec.Path) {
			if trace {
				log.Info("cmdset %d (%s) ignored path: %s", i, s.Name, rec.Path)
			}
			continue
		}
		if trace {
			log.Info("cmdset %d (%s) matched: %s", i, s.Name, rec.Path)
			continue
		}

		for _, cmdline := range s.Commands {
			if verbose {
				log.Info("[x] %s", cmdline)
			}

			start := time.Now()
			err := invoke(cmdline, rec.Path, s.Env, fds)
			s.AddElapsed(time.Since(start).Milliseconds())
			if err != nil {
				return fmt.Errorf("cmdset %q: command %q: %w", s.Name, cmdline, err)
			}
		}
	}
	return nil
}

func invoke(cmdline, fpath string, env []string, fds Fds) error {
	cmd := exec.Command("/bin/sh", "-c", cmdline)
	cmd.Stdout = fds.Out
	cmd.Stderr = fds.Err
	cmd.Env = append(cmd.Environ(), "FILEPATH="+fpath)
	cmd.Env = append(cmd.Env, env...)
	return cmd.Run()
}
