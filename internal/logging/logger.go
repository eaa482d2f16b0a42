package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/wire"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
)

var LoggingSet = wire.NewSet(
	NewLogger,
)

// NewLogger creates the process logger. Logs go to stderr so stdout carries
// only command output; with --json they are JSON lines too.
func NewLogger(cfg *config.RuntimeConfig) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *config.RuntimeConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if l, ok := parseLevel(os.Getenv("TREB_LOG_LEVEL")); ok {
		level = l
	}
	debug := cfg != nil && cfg.Debug
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && !debug {
				return slog.Attr{}
			}
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = shortPath(source.File)
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg != nil && cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	log := slog.New(handler)
	if cfg != nil && cfg.DryRun {
		log = log.With("dry_run", true)
	}
	return log
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// shortPath trims a source path to the module-relative part
func shortPath(file string) string {
	file = filepath.ToSlash(file)
	for _, dir := range []string{"/internal/", "/cli/"} {
		if idx := strings.LastIndex(file, dir); idx != -1 {
			return file[idx+1:]
		}
	}
	return filepath.Base(file)
}
