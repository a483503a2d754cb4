package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger writing to w. Warnings and errors are always
// shown; verbose enables debug output.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init installs the process-wide logger on stderr.
func Init(verbose bool) {
	slog.SetDefault(New(os.Stderr, verbose))
}
