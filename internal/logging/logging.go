// Package logging configures the structured logger shared by the CLI and
// the log daemon.
//
// Logs always go to the writer given to Setup, normally stderr, so that
// stdout only carries command output and can be piped. The daemon uses the
// JSON format for journald; interactive commands default to text.
//
// Usage:
//
//	logger := logging.Setup("info", "text", os.Stderr)
//	logger.Info("sandbox created", "sandbox", id)
package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// Setup creates a logger and installs it as the slog default.
// level accepts "debug", "info", "warn", "error" (case-insensitive);
// unrecognized values mean "info". format is "json" or "text"; anything
// else means "text".
func Setup(level, format string, w io.Writer) *slog.Logger {
	slogLevel := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		// Source locations only pay off when debugging
		AddSource:   slogLevel <= slog.LevelDebug,
		ReplaceAttr: shortenSource,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)

	// Set as default for packages that receive a nil logger
	slog.SetDefault(logger)

	return logger
}

// shortenSource trims source paths to start at internal/ or cmd/.
func shortenSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	source, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	source.File = trimToPackage(source.File)
	source.Function = trimToPackage(source.Function)
	return a
}

func trimToPackage(s string) string {
	for _, marker := range []string{"internal/", "cmd/"} {
		if idx := strings.Index(s, marker); idx != -1 {
			return s[idx:]
		}
	}
	return filepath.Base(s)
}

// parseLevel converts a string log level to slog.Level.
// Accepts: "debug", "info", "warn", "error" (case-insensitive).
// Returns slog.LevelInfo for unrecognized values.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger with a pre-set component attribute.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
