package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelColors = []struct {
	plain   []byte
	colored []byte
}{
	{[]byte("level=DEBUG"), []byte("\033[36mlevel=DEBUG\033[0m")},
	{[]byte("level=INFO"), []byte("\033[32mlevel=INFO\033[0m")},
	{[]byte("level=WARN"), []byte("\033[33mlevel=WARN\033[0m")},
	{[]byte("level=ERROR"), []byte("\033[31mlevel=ERROR\033[0m")},
}

// colorWriter highlights the level attribute of slog text records.
type colorWriter struct {
	w io.Writer
}

func (cw colorWriter) Write(p []byte) (int, error) {
	out := p
	for _, lc := range levelColors {
		if bytes.Contains(out, lc.plain) {
			out = bytes.Replace(out, lc.plain, lc.colored, 1)
			break
		}
	}
	if _, err := cw.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// IsDevelopment reports whether environment names a developer machine.
func IsDevelopment(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "local", "dev", "development":
		return true
	}
	return false
}

// New builds the process logger on stdout.
// Development environments get text output (colored on a terminal); every
// other environment gets JSON.
func New(appName, level, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, appName, level, environment)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, appName, level, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	var handler slog.Handler
	if IsDevelopment(environment) {
		out := w
		if isTerminal(w) {
			out = colorWriter{w: w}
		}
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("app", appName)
}

// Component tags log with the name of the emitting component.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return log.With("component", name)
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
