package machine

import (
	"fmt"
	"strings"
)

// StackFrame is one line of a runtime error's trace: the frame's function
// name (or "script" for the top-level frame) and the source line active
// when the error was raised.
type StackFrame struct {
	Name string
	Line int
}

// RuntimeError is raised by opcodes for type mismatches, arity errors,
// undefined names, and the other runtime-error conditions spec.md §7
// enumerates. Its Error() rendering is what the CLI writes to stderr.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for i := len(e.StackTrace) - 1; i >= 0; i-- {
		f := e.StackTrace[i]
		b.WriteString(fmt.Sprintf("\n[line %d] in %s()", f.Line, f.Name))
	}
	return b.String()
}

func newRuntimeError(message string, trace []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: trace}
}
