package machine_test

import (
	"testing"

	"github.com/loonlang/loon/internal/scripttest"
)

// TestGoldenScripts runs every fixture in testdata against a fresh VM and
// diffs its output (and, where present, its runtime-error text) against the
// matching golden file. These cover spec.md §8's six end-to-end scenarios.
func TestGoldenScripts(t *testing.T) {
	scripttest.Run(t, "testdata")
}
