// cmdset.go - parsed pattern -> command mapping configuration
//
// Grounded on original_source/src/lcmd.c (lcmdparse, lcmdparseone,
// lcmdparseflags, lcmdmatchany) re-expressed with encoding/json and
// regexp in place of cJSON and POSIX regex(3).

package cmdset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/opencoff/go-logger"
	"github.com/opencoff/shlex"
)

// Trigger is a bitset over the lifecycle events a command-set entry can
// be wired to, plus the two execution-mode flags (verbose, trace) carried
// alongside a work request.
type Trigger uint

const (
	New Trigger = 1 << iota
	Mod
	Del
	Nop

	Verbose
	Trace

	All = New | Mod | Del | Nop
)

var flagNames = map[string]Trigger{
	"new": New,
	"mod": Mod,
	"del": Del,
	"nop": Nop,
}

func (t Trigger) String() string {
	var s string
	for name, fl := range flagNames {
		if t&fl != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Set is one parsed command-set entry: the lifecycle flags it fires on,
// the compiled patterns it must match, the shell commands it runs in
// order, a human name, and cumulative elapsed execution time.
type Set struct {
	Name     string
	OnFlags  Trigger
	Patterns []*regexp.Regexp
	Commands []string
	Env      []string // KEY=VALUE pairs, parsed from the "env" config field

	elapsedMs atomic.Int64
}

// AddElapsed accumulates wall-clock command execution time for this set.
func (s *Set) AddElapsed(ms int64) {
	s.elapsedMs.Add(ms)
}

// ElapsedMs returns the cumulative milliseconds spent executing this set's
// commands.
func (s *Set) ElapsedMs() int64 {
	return s.elapsedMs.Load()
}

// Matches reports whether fpath matches any of the set's patterns.
// An entry with no patterns matches nothing.
func (s *Set) Matches(fpath string) bool {
	for _, p := range s.Patterns {
		if p.MatchString(fpath) {
			return true
		}
	}
	return false
}

// configEntry mirrors the JSON schema of spec.md SS6.
type configEntry struct {
	On          []string `json:"on"`
	Patterns    []string `json:"patterns"`
	Commands    []string `json:"commands"`
	Description string   `json:"description"`
	Env         string   `json:"env"`
}

// LoadFile reads and parses a configuration file at path. log receives a
// diagnostic line for every unrecognized 'on' trigger name encountered;
// log may be nil, in which case those diagnostics are simply dropped.
func LoadFile(path string, log logger.Logger) ([]*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, log)
}

// Load parses a JSON array of command-set entries from r. log receives a
// diagnostic line for every unrecognized 'on' trigger name encountered;
// log may be nil, in which case those diagnostics are simply dropped.
func Load(r io.Reader, log logger.Logger) ([]*Set, error) {
	var entries []configEntry
	dec := json.NewDecoder(r)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("cmdset: parse error: %w", err)
	}

	sets := make([]*Set, 0, len(entries))
	for i, e := range entries {
		s, err := parseEntry(e, i, log)
		if err != nil {
			return nil, fmt.Errorf("cmdset: entry %d: %w", i, err)
		}
		sets = append(sets, s)
	}
	return sets, nil
}

func parseEntry(e configEntry, id int, log logger.Logger) (*Set, error) {
	var flags Trigger
	for _, name := range e.On {
		fl, ok := flagNames[name]
		if !ok {
			if log != nil {
				log.Error("cmdset: entry %d: unknown trigger name %q, ignored", id, name)
			}
			continue
		}
		flags |= fl
	}
	if flags == 0 {
		return nil, fmt.Errorf("no valid 'on' triggers")
	}

	if len(e.Commands) == 0 {
		return nil, fmt.Errorf("no commands provided")
	}

	patterns := make([]*regexp.Regexp, 0, len(e.Patterns))
	for _, p := range e.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	name := e.Description
	if name == "" {
		name = fmt.Sprintf("cmdset %d", id)
	}

	var env []string
	if e.Env != "" {
		toks, err := shlex.Split(e.Env)
		if err != nil {
			return nil, fmt.Errorf("parsing env %q: %w", e.Env, err)
		}
		env = toks
	}

	return &Set{
		Name:     name,
		OnFlags:  flags,
		Patterns: patterns,
		Commands: e.Commands,
		Env:      env,
	}, nil
}

// MatchAny reports whether fpath matches any pattern of any set - used by
// the diff engine's junk filter (spec.md: "Junk file: any file for which
// no configured pattern matches").
func MatchAny(sets []*Set, fpath string) bool {
	for _, s := range sets {
		if s.Matches(fpath) {
			return true
		}
	}
	return false
}
