package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).
		With().
		Timestamp().
		Str("test", t.Name()).
		Logger()
}

// BufferLogger returns a logger writing JSON lines to w, for tests that
// assert on log output.
func BufferLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w)
}
