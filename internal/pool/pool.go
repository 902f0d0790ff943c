// pool.go - worker pool with a per-worker reservation handshake and a
// reusable stage barrier.
//
// Grounded on github.com/opencoff/go-fio's workpool.go (the generic
// WorkPool[Work] shape: panic recovery, error harvesting goroutine) and
// original_source/src/tp.c (tpqueue/tpwait/tpshutdown semantics). Unlike
// WorkPool[Work].Wait, which closes its channel and can only be called
// once, Pool.Wait is a barrier callers invoke once per diffengine stage -
// spec.md requires the producer to synchronize with pool quiescence at
// each STAGE_DONE notification, then keep submitting in later stages.

package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencoff/fsautoproc/internal/cmdset"
	"github.com/opencoff/fsautoproc/internal/lcmd"
	"github.com/opencoff/fsautoproc/internal/record"
	"github.com/opencoff/go-logger"
)

// Request is one unit of work handed to the pool: a snapshot of the
// command-set table, the record to process, and the trigger/option flags
// for this event. The referenced record must outlive the request - in
// practice it is owned by the index the diffengine walk is building and
// is only freed after the pool's final Wait (spec.md SS3, "work request").
type Request struct {
	Sets   []*cmdset.Set
	Record *record.Record
	Flags  cmdset.Trigger
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogFiles directs each worker to redirect its commands' stdout/stderr
// to per-worker log files (stdout.<id>.log, stderr.<id>.log) in dir,
// truncated on open, instead of sharing the process's own streams.
func WithLogFiles(dir string) Option {
	return func(p *Pool) { p.logDir = dir }
}

// Pool is a fixed-size set of long-lived worker goroutines.
type Pool struct {
	n      int
	log    logger.Logger
	logDir string

	ch       chan Request
	wg       sync.WaitGroup // outstanding submitted-but-not-finished requests
	poolWg   sync.WaitGroup // worker goroutines, for shutdown
	stopOnce sync.Once

	mu   sync.Mutex
	errs []error
	logs []*workerFds
}

type workerFds struct {
	out, err *os.File
}

func (f *workerFds) Close() {
	if f == nil {
		return
	}
	if f.out != nil {
		f.out.Close()
	}
	if f.err != nil {
		f.err.Close()
	}
}

// New creates a Pool of n workers (minimum 1; a non-positive n defaults to
// 4, matching spec.md SS4.F). log receives diagnostic output about command
// failures, which the pool never retries.
func New(n int, log logger.Logger, opts ...Option) (*Pool, error) {
	if n <= 0 {
		n = 4
	}

	p := &Pool{
		n:   n,
		log: log,
		ch:  make(chan Request),
	}
	for _, o := range opts {
		o(p)
	}

	p.logs = make([]*workerFds, n)
	if p.logDir != "" {
		for i := 0; i < n; i++ {
			fds, err := openWorkerFds(p.logDir, i)
			if err != nil {
				return nil, err
			}
			p.logs[i] = fds
		}
	}

	p.poolWg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(i)
	}

	return p, nil
}

func openWorkerFds(dir string, id int) (*workerFds, error) {
	out, err := os.OpenFile(filepath.Join(dir, fmt.Sprintf("stdout.%d.log", id)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("pool: open stdout log for worker %d: %w", id, err)
	}
	errf, err := os.OpenFile(filepath.Join(dir, fmt.Sprintf("stderr.%d.log", id)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("pool: open stderr log for worker %d: %w", id, err)
	}
	return &workerFds{out: out, err: errf}, nil
}

func (p *Pool) worker(id int) {
	defer p.poolWg.Done()

	fds := lcmd.Fds{Out: os.Stdout, Err: os.Stderr}
	if p.logs[id] != nil {
		fds = lcmd.Fds{Out: p.logs[id].out, Err: p.logs[id].err}
	}

	for req := range p.ch {
		if err := lcmd.Exec(req.Sets, req.Record, fds, req.Flags, p.log); err != nil {
			p.log.Error("worker %d: %s", id, err)
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		}

		// spec.md SS4.F / original_source/src/tp.c: after a NEW/MOD
		// command sequence runs, refresh the record's stat so a
		// command that modified the file in place is captured before
		// the next stage observes it.
		if req.Flags&(cmdset.New|cmdset.Mod) != 0 {
			if st, err := record.StatPath(req.Record.Path); err == nil {
				req.Record.SetStat(st)
			}
		}

		p.wg.Done()
	}
}

// Submit enqueues a request, blocking (back-pressure) if every worker is
// currently busy. Submit must not be called after Shutdown.
func (p *Pool) Submit(req Request) {
	p.wg.Add(1)
	p.ch <- req
}

// Wait blocks until every request submitted since the last Wait call has
// finished its full command sequence and any post-run stat refresh. It is
// the ordering barrier the diffengine uses between stages and may be
// called any number of times.
func (p *Pool) Wait() error {
	p.wg.Wait()

	p.mu.Lock()
	errs := p.errs
	p.errs = nil
	p.mu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Shutdown stops accepting new work and waits for all worker goroutines to
// exit. It is one-shot and must be called before the Pool is discarded.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.ch)
	})
	p.poolWg.Wait()

	for _, f := range p.logs {
		f.Close()
	}
}
