package machine

import (
	"fmt"
	"io"
)

// Sink is the output-sink capability spec.md §9 calls for in place of the
// teacher's function-pointer quietPrint/restorePrint pair: callers select a
// mode and swap sinks around the prelude load instead of mutating a global.
type Sink interface {
	Print(s string)
	Printf(format string, args ...interface{})
}

// WriterSink writes immediately to an underlying io.Writer. This is the
// CLI's default mode for program output and the -g/-x traces (the -c
// disassembly is written straight to stdout, not through a Sink).
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Print(str string) { fmt.Fprint(s.W, str) }
func (s WriterSink) Printf(format string, args ...interface{}) {
	fmt.Fprintf(s.W, format, args...)
}

// BufferedSink implements the -l flag: every print is appended to an
// internal buffer in FIFO order and nothing reaches the underlying writer
// until Flush is called, which a caller does once at end-of-run.
type BufferedSink struct {
	W   io.Writer
	buf []string
}

func (s *BufferedSink) Print(str string) { s.buf = append(s.buf, str) }
func (s *BufferedSink) Printf(format string, args ...interface{}) {
	s.buf = append(s.buf, fmt.Sprintf(format, args...))
}

func (s *BufferedSink) Flush() {
	for _, str := range s.buf {
		fmt.Fprint(s.W, str)
	}
	s.buf = s.buf[:0]
}

// NullSink discards everything written to it. Used to suppress output
// while the prelude script is interpreted at startup.
type NullSink struct{}

func (NullSink) Print(string)                    {}
func (NullSink) Printf(string, ...interface{}) {}
