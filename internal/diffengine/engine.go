// engine.go - three-stage directory diff engine
//
// Grounded on original_source/src/deng.c (stagepre, stagepost,
// checkremoved, execstage, dengsearch) and the two-sided gather/diff shape
// of github.com/opencoff/go-fio's cmp/cmp.go and cmp/engine.go, adapted
// from a concurrent two-map compare into the sequential, single-producer
// three-stage walk spec.md mandates.

package diffengine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencoff/fsautoproc/internal/dirqueue"
	"github.com/opencoff/fsautoproc/internal/index"
	"github.com/opencoff/fsautoproc/internal/record"
)

// Notification is emitted once per directory drained (DirDone) and once
// per completed stage (StageDone); the driver uses StageDone to call
// pool.Wait() as the ordering barrier spec.md SS4.G requires.
type Notification int

const (
	DirDone Notification = iota
	StageDone
)

// Filter is invoked once per eligible file path; returning true excludes
// the path from further processing for the current stage.
type Filter func(fpath string) bool

// Hooks are the caller-supplied classification callbacks. Any hook may be
// nil, in which case it is a no-op.
type Hooks struct {
	New    func(rec *record.Record)
	Mod    func(rec *record.Record)
	Del    func(rec *record.Record)
	Nop    func(rec *record.Record)
	Notify func(n Notification)
}

func (h Hooks) invokeNew(rec *record.Record) {
	if h.New != nil {
		h.New(rec)
	}
}
func (h Hooks) invokeMod(rec *record.Record) {
	if h.Mod != nil {
		h.Mod(rec)
	}
}
func (h Hooks) invokeDel(rec *record.Record) {
	if h.Del != nil {
		h.Del(rec)
	}
}
func (h Hooks) invokeNop(rec *record.Record) {
	if h.Nop != nil {
		h.Nop(rec)
	}
}
func (h Hooks) notify(n Notification) {
	if h.Notify != nil {
		h.Notify(n)
	}
}

// Error wraps a failure encountered while walking or stat-ing a path
// during a stage, matching spec.md SS7 ("Filesystem errors ... fatal to
// the current stage, propagate up").
type Error struct {
	Stage string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("diffengine: stage %s: %s: %s", e.Stage, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Engine holds the two indexes a run compares: Last is the loaded prior
// index (read-only), This is the live index being built.
type Engine struct {
	Last *index.Index
	This *index.Index
}

// New returns an Engine comparing an empty or previously-loaded Last index
// against a fresh This index.
func New(last *index.Index) *Engine {
	if last == nil {
		last = index.New()
	}
	return &Engine{Last: last, This: index.New()}
}

// Run performs the pre pass, removal sweep, and post pass over root in
// order, invoking hooks as each file is classified. filter may be nil.
func (e *Engine) Run(root string, hooks Hooks, filter Filter) error {
	if err := e.stagePre(root, hooks, filter); err != nil {
		return err
	}
	e.checkRemoved(hooks)
	if err := e.stagePost(root, hooks, filter); err != nil {
		return err
	}
	return nil
}

// walk drains a directory queue seeded with root, invoking apply for every
// entry that is not a directory (regular files, symlinks and any other
// non-directory entry alike), and notifying DirDone after
// each directory is fully drained and StageDone once the queue empties.
func (e *Engine) walk(stage, root string, hooks Hooks, filter Filter, apply func(fpath string) error) error {
	q := dirqueue.New(root)

	for {
		dir, ok := q.Pop()
		if !ok {
			break
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return &Error{Stage: stage, Path: dir, Err: err}
		}

		for _, ent := range entries {
			fpath := filepath.Join(dir, ent.Name())

			if ent.IsDir() {
				q.Push(fpath)
				continue
			}

			if filter != nil && filter(fpath) {
				continue
			}

			if err := apply(fpath); err != nil {
				return &Error{Stage: stage, Path: fpath, Err: err}
			}
		}

		hooks.notify(DirDone)
	}

	hooks.notify(StageDone)
	return nil
}

// stagePre classifies every eligible file against the prior index
// (original_source/src/deng.c: stagepre).
func (e *Engine) stagePre(root string, hooks Hooks, filter Filter) error {
	return e.walk("pre", root, hooks, filter, func(fpath string) error {
		st, err := record.StatPath(fpath)
		if err != nil {
			return err
		}

		prev := e.Last.Find(fpath)

		curr := e.This.Find(fpath)
		if curr == nil {
			curr = record.New(fpath, st)
			e.This.Put(curr)
		}

		switch {
		case prev == nil:
			hooks.invokeNew(curr)
		case !prev.Stat().Equal(curr.Stat()):
			hooks.invokeMod(curr)
		default:
			hooks.invokeNop(curr)
		}
		return nil
	})
}

// checkRemoved sweeps the prior index for paths absent from the live
// index, emitting Del for each (original_source/src/deng.c: checkremoved).
func (e *Engine) checkRemoved(hooks Hooks) {
	if e.Last.Size() == 0 {
		hooks.notify(StageDone)
		return
	}

	for _, prev := range e.Last.List() {
		if e.This.Find(prev.Path) == nil {
			hooks.invokeDel(prev)
		}
	}
	hooks.notify(StageDone)
}

// stagePost re-walks the tree to discover files that stage-pre's commands
// themselves produced, silently refreshing the stat of files already
// known (no event - spec.md SS9) and emitting New for newly discovered
// ones (original_source/src/deng.c: stagepost).
func (e *Engine) stagePost(root string, hooks Hooks, filter Filter) error {
	return e.walk("post", root, hooks, filter, func(fpath string) error {
		if curr := e.This.Find(fpath); curr != nil {
			st, err := record.StatPath(fpath)
			if err != nil {
				return err
			}
			curr.SetStat(st)
			return nil
		}

		st, err := record.StatPath(fpath)
		if err != nil {
			return err
		}
		curr := record.New(fpath, st)
		e.This.Put(curr)
		hooks.invokeNew(curr)
		return nil
	})
}
