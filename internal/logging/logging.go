package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the process-wide slog handler. Logs go to stderr so that
// report output on stdout stays machine-readable.
func Init(verbose bool) {
	slog.SetDefault(New(os.Stderr, verbose))
}

// New builds a text logger writing to w at Info, or Debug when verbose.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
