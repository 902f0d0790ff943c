// main.go - fsautoproc driver: CLI parsing, wiring of the diff engine,
// worker pool, command-set table, index, and lockfile.
//
// Grounded on original_source/src/main.c (parseinitargs, cmpchanges,
// tracefile, onnew/onmod/ondel/onnop/onnotify, printmsspent) and the
// pflag/go-logger CLI idiom of github.com/opencoff/go-fio's
// testsuite/main.go and testsuite/run.go.

package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	flag "github.com/opencoff/pflag"

	"github.com/opencoff/fsautoproc/internal/cmdset"
	"github.com/opencoff/fsautoproc/internal/diffengine"
	"github.com/opencoff/fsautoproc/internal/filelock"
	"github.com/opencoff/fsautoproc/internal/index"
	"github.com/opencoff/fsautoproc/internal/lcmd"
	"github.com/opencoff/fsautoproc/internal/pool"
	"github.com/opencoff/fsautoproc/internal/progress"
	"github.com/opencoff/fsautoproc/internal/record"
	"github.com/opencoff/fsautoproc/internal/safefile"
	"github.com/opencoff/go-logger"
)

// Version is the module's build version, surfaced via -V.
var Version = "0.1.0"

var Z = path.Base(os.Args[0])

type config struct {
	configFile  string
	indexFile   string
	lockFile    string
	searchDir   string
	traceFile   string
	pipeFiles   bool
	includeJunk bool
	listSpent   bool
	skipProc    bool
	threads     int
	verbose     bool
}

func parseArgs() *config {
	var help, version bool
	cfg := &config{}

	fs := flag.NewFlagSet(Z, flag.ExitOnError)
	fs.BoolVarP(&help, "help", "h", false, "Show help and exit")
	fs.BoolVarP(&version, "version", "V", false, "Show version and exit")
	fs.StringVarP(&cfg.configFile, "config", "c", "fsautoproc.json", "Configuration `file`")
	fs.StringVarP(&cfg.indexFile, "index", "i", "", "File index write `path`")
	fs.BoolVarP(&cfg.includeJunk, "include-junk", "j", false, "Include files matching no command-set in the index")
	fs.BoolVarP(&cfg.listSpent, "list-spent", "l", false, "List time spent for each command set")
	fs.BoolVarP(&cfg.pipeFiles, "pipe-files", "p", false, "Pipe subprocess stdout/stderr to per-worker log files")
	fs.StringVarP(&cfg.searchDir, "search-dir", "s", ".", "Search directory `root`")
	fs.IntVarP(&cfg.threads, "threads", "t", 4, "Number of worker `threads`")
	fs.StringVarP(&cfg.traceFile, "trace", "r", "", "Trace which command sets match `file` and exit")
	fs.BoolVarP(&cfg.skipProc, "skip-proc", "u", false, "Skip processing files, only update file index")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "Enable verbose output")
	fs.StringVarP(&cfg.lockFile, "lock-file", "x", "", "Exclusive lock `file` path")
	fs.SetOutput(os.Stdout)

	if err := fs.Parse(os.Args[1:]); err != nil {
		die("%s", err)
	}

	if help {
		fmt.Printf("Usage: %s [options]\n\nOptions:\n", Z)
		fs.PrintDefaults()
		os.Exit(0)
	}
	if version {
		fmt.Printf("%s %s\n", Z, Version)
		os.Exit(0)
	}

	if cfg.indexFile == "" {
		cfg.indexFile = filepath.Join(cfg.searchDir, "index.dat")
	}
	if cfg.lockFile == "" {
		cfg.lockFile = filepath.Join(cfg.searchDir, "fsautoproc.lock")
	}
	if cfg.threads <= 0 {
		cfg.threads = 4
	}

	return cfg
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", Z, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func main() {
	cfg := parseArgs()

	logFlags := logger.Ldate | logger.Ltime
	level := logger.LOG_INFO
	if cfg.verbose {
		level = logger.LOG_DEBUG
	}
	log, err := logger.NewLogger("STDOUT", level, Z, logFlags)
	if err != nil {
		die("cannot create logger: %s", err)
	}
	defer log.Close()

	lock, err := filelock.Acquire(cfg.lockFile)
	if err != nil {
		die("%s (is another instance already running? did a previous instance crash?)", err)
	}
	defer lock.Release()

	sets, err := cmdset.LoadFile(cfg.configFile, log)
	if err != nil {
		die("error loading configuration file %q: %s", cfg.configFile, err)
	}

	if cfg.traceFile != "" {
		if err := traceFile(sets, cfg.traceFile, log); err != nil {
			die("error tracing file %q: %s", cfg.traceFile, err)
		}
		return
	}

	var opts []pool.Option
	if cfg.pipeFiles {
		opts = append(opts, pool.WithLogFiles(cfg.searchDir))
	}
	p, err := pool.New(cfg.threads, log, opts...)
	if err != nil {
		die("error initializing worker pool: %s", err)
	}

	if err := compareChanges(cfg, sets, p, log); err != nil {
		die("error comparing changes: %s", err)
	}

	p.Shutdown()

	if cfg.listSpent {
		printElapsed(sets, log)
	}
}

// compareChanges loads the prior index, walks the tree via the diff
// engine, queues command sets for each classification, waits at each
// stage barrier, and writes the refreshed index. Grounded on
// original_source/src/main.c's cmpchanges.
func compareChanges(cfg *config, sets []*cmdset.Set, p *pool.Pool, log logger.Logger) error {
	last := index.New()
	if f, err := os.Open(cfg.indexFile); err == nil {
		defer f.Close()
		if err := last.Read(f); err != nil {
			return fmt.Errorf("reading %q: %w", cfg.indexFile, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %q: %w", cfg.indexFile, err)
	}

	eng := diffengine.New(last)
	bar := progress.New(os.Stdout)

	trig := func(rec *record.Record, flag cmdset.Trigger) {
		if cfg.skipProc {
			return
		}
		fl := flag
		if cfg.verbose {
			fl |= cmdset.Verbose
		}
		p.Submit(pool.Request{Sets: sets, Record: rec, Flags: fl})
	}

	hooks := diffengine.Hooks{
		New: func(rec *record.Record) {
			log.Info("[+] %s", rec.Path)
			trig(rec, cmdset.New)
		},
		Mod: func(rec *record.Record) {
			log.Info("[*] %s", rec.Path)
			trig(rec, cmdset.Mod)
		},
		Del: func(rec *record.Record) {
			log.Info("[-] %s", rec.Path)
			trig(rec, cmdset.Del)
		},
		Nop: func(rec *record.Record) {
			if cfg.verbose {
				log.Info("[n] %s", rec.Path)
			}
			trig(rec, cmdset.Nop)
		},
		Notify: func(n diffengine.Notification) {
			switch n {
			case diffengine.DirDone:
				bar.Update(eng.This.Size(), last.Size())
			case diffengine.StageDone:
				if err := p.Wait(); err != nil {
					log.Error("stage command error(s): %s", err)
				}
			}
		},
	}

	filter := progress.JunkFilter(sets, cfg.includeJunk, func(fpath string) {
		if cfg.verbose {
			log.Info("[j] %s", fpath)
		}
	})

	if err := eng.Run(cfg.searchDir, hooks, filter); err != nil {
		return err
	}
	bar.Done()

	log.Info("compared %d files", eng.This.Size())

	out, err := safefile.New(cfg.indexFile, 0644)
	if err != nil {
		return fmt.Errorf("writing %q: %w", cfg.indexFile, err)
	}
	defer out.Abort()
	if err := eng.This.Write(out); err != nil {
		return fmt.Errorf("writing %q: %w", cfg.indexFile, err)
	}
	return out.Close()
}

// traceFile reports which command sets match fpath without executing
// anything, matching original_source/src/main.c's tracefile.
func traceFile(sets []*cmdset.Set, fpath string, log logger.Logger) error {
	st, err := record.StatPath(fpath)
	if err != nil {
		return err
	}
	rec := record.New(fpath, st)
	fds := lcmd.Fds{Out: os.Stdout, Err: os.Stderr}
	return lcmd.Exec(sets, rec, fds, cmdset.Trace|cmdset.All, log)
}

func printElapsed(sets []*cmdset.Set, log logger.Logger) {
	for _, s := range sets {
		ms := s.ElapsedMs()
		if ms > 1000 {
			log.Info("%s: %.3fs", s.Name, float64(ms)/1000)
		} else {
			log.Info("%s: %dms", s.Name, ms)
		}
	}
}
