// Package logging configures the process-wide slog logger. The TUI owns the
// terminal, so logs go to a file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const defaultFileName = "parley.log"

type Options struct {
	Level  string
	Format string
	// File is the log path. Empty means <dir>/parley.log.
	File  string
	Debug bool
}

// Setup opens the log file, installs the logger as slog's default and
// returns it with a closer for the file.
func Setup(opts Options, dir string) (*slog.Logger, io.Closer, error) {
	path := opts.File
	if path == "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, errors.Wrap(err, "create log dir")
		}
		path = filepath.Join(dir, defaultFileName)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", path)
	}

	logger := New(f, opts)
	slog.SetDefault(logger)
	return logger, f, nil
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: errorText}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(h)
}

// errorText logs errors by message only, never with the %+v stack of
// pkg/errors values.
func errorText(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok && err != nil {
		a.Value = slog.StringValue(err.Error())
	}
	return a
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
