// Package scripttest runs golden-file fixtures against the loon VM: every
// *.loon file in the given directory is interpreted and its captured stdout
// compared against a sibling *.want file.
package scripttest

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/kylelemons/godebug/diff"
	"golang.org/x/sync/errgroup"

	"github.com/loonlang/loon/internal/machine"
)

// result is one fixture's captured behavior: its stdout and, if the run
// failed, the error's message.
type result struct {
	name   string
	output string
	errMsg string
}

// Run loads every *.loon file in dir, interprets each one against a fresh
// VM, and diffs its stdout against the matching *.want golden file; when a
// matching *.err file exists, the error text is compared against it, and
// otherwise any error fails the fixture. Fixtures run concurrently
// via errgroup since each gets its own VM and they share no state; the
// diffing itself happens back on the test goroutine so t.Errorf is safe.
func Run(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != ".loon" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	results := make([]result, len(names))
	var eg errgroup.Group
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			results[i] = runFixture(dir, name)
			return nil
		})
	}
	_ = eg.Wait()

	for _, r := range results {
		t.Run(r.name, func(t *testing.T) {
			wantOutput := readGolden(t, filepath.Join(dir, r.name+".want"))
			if patch := diff.Diff(wantOutput, r.output); patch != "" {
				t.Errorf("output mismatch:\n%s", patch)
			}

			wantErrPath := filepath.Join(dir, r.name+".err")
			if _, err := os.Stat(wantErrPath); err == nil {
				wantErr := readGolden(t, wantErrPath)
				if strings.TrimSpace(wantErr) != strings.TrimSpace(r.errMsg) {
					t.Errorf("error mismatch:\nwant: %s\ngot:  %s", wantErr, r.errMsg)
				}
			} else if r.errMsg != "" {
				t.Errorf("unexpected error: %s", r.errMsg)
			}
		})
	}
}

func runFixture(dir, name string) result {
	source, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return result{name: name, errMsg: err.Error()}
	}

	var buf bytes.Buffer
	vm, err := machine.NewVM(machine.Options{Sink: machine.WriterSink{W: &buf}})
	if err != nil {
		return result{name: name, errMsg: err.Error()}
	}

	r := result{name: name}
	if err := vm.Interpret(string(source)); err != nil {
		r.errMsg = err.Error()
	}
	r.output = buf.String()
	return r
}

func readGolden(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatal(err)
	}
	return string(b)
}
