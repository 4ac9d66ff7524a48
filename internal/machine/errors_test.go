package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuntimeErrorFormatsInnermostFrameFirst(t *testing.T) {
	err := newRuntimeError("boom", []StackFrame{
		{Name: "script", Line: 1},
		{Name: "outer", Line: 2},
		{Name: "inner", Line: 3},
	})

	want := "boom\n[line 3] in inner()\n[line 2] in outer()\n[line 1] in script()"
	require.Equal(t, want, err.Error())
}

func TestRuntimeErrorWithNoFrames(t *testing.T) {
	err := newRuntimeError("boom", nil)
	require.Equal(t, "boom", err.Error())
}
