package machine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterSinkWritesImmediately(t *testing.T) {
	var buf bytes.Buffer
	s := WriterSink{W: &buf}
	s.Print("a")
	s.Printf("%d", 1)
	require.Equal(t, "a1", buf.String())
}

func TestBufferedSinkDefersUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	s := &BufferedSink{W: &buf}
	s.Print("a")
	s.Printf("%d", 1)
	require.Empty(t, buf.String())

	s.Flush()
	require.Equal(t, "a1", buf.String())

	// Flush drains the buffer; a second flush with nothing new writes nothing.
	s.Flush()
	require.Equal(t, "a1", buf.String())
}

func TestNullSinkDiscardsOutput(t *testing.T) {
	var s NullSink
	s.Print("anything")
	s.Printf("%d", 1)
}
