// Package exception records errors and panics as exception entries.
package exception

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/cache"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/infrastructure/logger"
	"3tcapital/telescope/internal/infrastructure/security"
)

// UnknownErrorClass names panics whose value is not an error.
const UnknownErrorClass = "UnknownError"

// contextRadius is the number of source lines kept on each side of the
// failing line.
const contextRadius = 2

// Sink receives exception entries. It must not block.
type Sink interface {
	Record(e *entry.Entry) bool
}

// Config controls exception capture.
type Config struct {
	Watch                   bool
	EnableFileReading       bool
	Environment             string
	FileReadingEnvironments []string
	// ProjectRoot is replaced by a placeholder in stored paths. Defaults to
	// the working directory.
	ProjectRoot  string
	FileCacheTTL time.Duration
}

// Hook turns errors and recovered panics into exception entries.
type Hook struct {
	sink        Sink
	log         *slog.Logger
	watch       bool
	readSource  bool
	projectRoot string
	files       *cache.TTL[string, []string]
	now         func() time.Time
}

// New creates a hook that records into sink.
func New(sink Sink, cfg Config, log *slog.Logger) *Hook {
	root := cfg.ProjectRoot
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	ttl := cfg.FileCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Hook{
		sink:        sink,
		log:         logger.Component(log, "exception"),
		watch:       cfg.Watch,
		readSource:  cfg.EnableFileReading && environmentAllowed(cfg.Environment, cfg.FileReadingEnvironments),
		projectRoot: root,
		files:       cache.NewTTL[string, []string](ttl, 256),
		now:         time.Now,
	}
}

func environmentAllowed(env string, allowed []string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimSpace(a)) == env {
			return true
		}
	}
	return false
}

// Capture records a handled error.
func (h *Hook) Capture(ctx context.Context, err error) {
	if err == nil {
		return
	}
	h.record(ctx, err.Error(), fmt.Sprintf("%T", err), debug.Stack())
}

// CapturePanic records a recovered panic value with the stack taken at the
// recovery point.
func (h *Hook) CapturePanic(ctx context.Context, recovered any, stack []byte) {
	if recovered == nil {
		return
	}
	if err, ok := recovered.(error); ok {
		h.record(ctx, err.Error(), fmt.Sprintf("%T", err), stack)
		return
	}
	h.record(ctx, fmt.Errorf("%v", recovered).Error(), UnknownErrorClass, stack)
}

// Go runs fn in a new goroutine, recording a panic instead of crashing the
// process. ctx, and with it the correlation id, is handed to fn.
func (h *Hook) Go(ctx context.Context, fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.CapturePanic(ctx, rec, debug.Stack())
			}
		}()
		fn(ctx)
	}()
}

func (h *Hook) record(ctx context.Context, message, class string, stack []byte) {
	if !h.watch || h.sink == nil {
		return
	}

	x := entry.Exception{
		Message:   message,
		Class:     class,
		Stack:     security.SanitizePath(string(stack), h.projectRoot),
		RequestID: ctxutil.RequestID(ctx),
	}

	if f, ok := originFrame(stack); ok {
		x.File = security.SanitizePath(f.file, h.projectRoot)
		x.Line = f.line
		if h.readSource {
			x.Context = h.sourceContext(f.file, f.line)
		}
	}

	if !h.sink.Record(entry.NewException(h.now(), x)) {
		h.log.Debug("Exception entry not recorded", "class", class)
	}
}

// sourceContext returns the lines around line, keyed by line number.
func (h *Hook) sourceContext(file string, line int) map[int]string {
	lines, err := h.files.GetOrLoad(file, readLines)
	if err != nil {
		h.log.Warn("Failed to read source file", "file", security.SanitizePath(file, h.projectRoot), "error", err)
		return nil
	}

	out := make(map[int]string, 2*contextRadius+1)
	for n := line - contextRadius; n <= line+contextRadius; n++ {
		if n < 1 || n > len(lines) {
			continue
		}
		out[n] = security.RedactSource(lines[n-1])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
