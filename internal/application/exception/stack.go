package exception

import (
	"path/filepath"
	"strconv"
	"strings"
)

type frame struct {
	function string
	file     string
	line     int
}

// Function name prefixes that never identify where an error originated.
var runtimePrefixes = []string{
	"runtime.",
	"runtime/debug.",
	"panic(",
	"net/http.",
}

// Source files of Telescope's own capture code. Matched by path because
// inlined closures take the name of the function they were inlined into.
var instrumentationFiles = []string{
	"/internal/application/exception/hook.go",
	"/internal/infrastructure/http/middleware/recover.go",
}

// parseStack reads the frames of a debug.Stack trace. Each frame is a
// function line followed by a tab-indented "file:line +0xoff" line.
func parseStack(stack []byte) []frame {
	lines := strings.Split(string(stack), "\n")
	var frames []frame
	for i := 0; i+1 < len(lines); i++ {
		fn := lines[i]
		loc := lines[i+1]
		if fn == "" || strings.HasPrefix(fn, "\t") || strings.HasPrefix(fn, "goroutine ") {
			continue
		}
		if !strings.HasPrefix(loc, "\t") {
			continue
		}

		file, line, ok := parseLocation(strings.TrimPrefix(loc, "\t"))
		if !ok {
			continue
		}
		frames = append(frames, frame{function: fn, file: file, line: line})
		i++
	}
	return frames
}

func parseLocation(loc string) (string, int, bool) {
	if idx := strings.LastIndex(loc, " +0x"); idx >= 0 {
		loc = loc[:idx]
	}
	idx := strings.LastIndex(loc, ":")
	if idx <= 0 {
		return "", 0, false
	}
	line, err := strconv.Atoi(loc[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return loc[:idx], line, true
}

func isInternalFrame(f frame) bool {
	for _, p := range runtimePrefixes {
		if strings.HasPrefix(f.function, p) {
			return true
		}
	}
	file := filepath.ToSlash(f.file)
	for _, s := range instrumentationFiles {
		if strings.HasSuffix(file, s) {
			return true
		}
	}
	return false
}

// originFrame returns the first application frame. For a recovered panic
// the search starts below the panic call, so deferred recovery code above
// it is never reported.
func originFrame(stack []byte) (frame, bool) {
	frames := parseStack(stack)
	for i, f := range frames {
		if strings.HasPrefix(f.function, "panic(") {
			if origin, ok := firstExternal(frames[i+1:]); ok {
				return origin, true
			}
			break
		}
	}
	return firstExternal(frames)
}

func firstExternal(frames []frame) (frame, bool) {
	for _, f := range frames {
		if !isInternalFrame(f) {
			return f, true
		}
	}
	return frame{}, false
}
