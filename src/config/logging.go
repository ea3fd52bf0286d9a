package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// logLevels are the accepted values of log_level and --log-level.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// InitLogging builds the logger every dockrun command logs through. The
// CLI hands it the command's stderr, which keeps stdout free for rendered
// pipelines and run tables. An interactive stderr gets plain key=value
// lines without timestamps; anything else (CI job logs, redirected files)
// gets one JSON object per record. A level outside logLevels falls back to
// info; config validation rejects those before a command runs.
func InitLogging(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(newHandler(w, isTerminal(w), opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func parseLevel(level string) slog.Level {
	if l, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return slog.LevelInfo
}

func newHandler(w io.Writer, isTTY bool, opts *slog.HandlerOptions) slog.Handler {
	if !isTTY {
		return slog.NewJSONHandler(w, opts)
	}
	// run output already shows per-phase durations
	text := *opts
	text.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return a
	}
	return slog.NewTextHandler(w, &text)
}
