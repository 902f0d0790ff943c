package lcmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencoff/fsautoproc/internal/cmdset"
	"github.com/opencoff/fsautoproc/internal/record"
	"github.com/opencoff/go-logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger("STDOUT", logger.LOG_DEBUG, "lcmd-test", logger.Ldate)
	if err != nil {
		t.Fatalf("can't create logger: %s", err)
	}
	return log
}

func loadSets(t *testing.T, j string) []*cmdset.Set {
	t.Helper()
	sets, err := cmdset.Load(strings.NewReader(j), nil)
	if err != nil {
		t.Fatal(err)
	}
	return sets
}

func TestExecOnFlagsGating(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sets := loadSets(t, `[{"on":["del"],"patterns":[".*"],"commands":["touch `+marker+`"]}]`)

	rec := record.New(filepath.Join(dir, "f"), record.Stat{})
	var out, errb bytes.Buffer
	if err := Exec(sets, rec, Fds{Out: &out, Err: &errb}, cmdset.New, testLogger(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("command ran despite non-matching OnFlags")
	}
}

func TestExecPatternGating(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sets := loadSets(t, `[{"on":["new"],"patterns":["\\.src$"],"commands":["touch `+marker+`"]}]`)

	rec := record.New(filepath.Join(dir, "f.txt"), record.Stat{})
	var out, errb bytes.Buffer
	if err := Exec(sets, rec, Fds{Out: &out, Err: &errb}, cmdset.New, testLogger(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("command ran despite non-matching pattern")
	}
}

func TestExecMatchingRuns(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sets := loadSets(t, `[{"on":["new"],"patterns":["\\.src$"],"commands":["touch `+marker+`"]}]`)

	rec := record.New(filepath.Join(dir, "f.src"), record.Stat{})
	var out, errb bytes.Buffer
	if err := Exec(sets, rec, Fds{Out: &out, Err: &errb}, cmdset.New, testLogger(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected command to run and create marker: %s", err)
	}
}

func TestExecTraceModeDoesNotInvoke(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sets := loadSets(t, `[{"on":["new"],"patterns":[".*"],"commands":["touch `+marker+`"]}]`)

	rec := record.New(filepath.Join(dir, "f"), record.Stat{})
	var out, errb bytes.Buffer
	if err := Exec(sets, rec, Fds{Out: &out, Err: &errb}, cmdset.Trace|cmdset.New, testLogger(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("trace mode must not execute commands")
	}
}

func TestExecStopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	j := `[
		{"on":["new"],"patterns":[".*"],"commands":["false", "touch ` + marker + `"]},
		{"on":["new"],"patterns":[".*"],"commands":["touch ` + marker + `"]}
	]`
	sets := loadSets(t, j)

	rec := record.New(filepath.Join(dir, "f"), record.Stat{})
	var out, errb bytes.Buffer
	err := Exec(sets, rec, Fds{Out: &out, Err: &errb}, cmdset.New, testLogger(t))
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Fatal("command after a failure (same or later set) must not run")
	}
}

func TestExecFilepathAndEnvInjected(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "f.src")
	j := `[{"on":["new"],"patterns":[".*"],"commands":["echo $FILEPATH $FOO"],"env":"FOO=bar"}]`
	sets := loadSets(t, j)

	rec := record.New(fpath, record.Stat{})
	var out, errb bytes.Buffer
	if err := Exec(sets, rec, Fds{Out: &out, Err: &errb}, cmdset.New, testLogger(t)); err != nil {
		t.Fatalf("unexpected error: %s (stderr: %s)", err, errb.String())
	}

	got := strings.TrimSpace(out.String())
	want := fpath + " bar"
	if got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
