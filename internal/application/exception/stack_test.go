package exception

import "testing"

const sampleStack = `goroutine 7 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
3tcapital/telescope/internal/infrastructure/http/middleware.Recoverer.func1.1.1()
	/srv/app/internal/infrastructure/http/middleware/recover.go:32 +0x65
panic({0x8a2f40?, 0xc0000a6010?})
	/usr/local/go/src/runtime/panic.go:785 +0x132
example.com/shop/orders.(*Handler).Checkout(0xc0000b2000, {0x9c1a48, 0xc0000d4000}, 0xc0000c6000)
	/srv/app/orders/handler.go:88 +0x1f
net/http.HandlerFunc.ServeHTTP(0xc000010000?, {0x9c1a48?, 0xc0000d4000?}, 0x0?)
	/usr/local/go/src/net/http/server.go:2220 +0x29
`

func TestParseStack(t *testing.T) {
	frames := parseStack([]byte(sampleStack))
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d: %+v", len(frames), frames)
	}
	if frames[3].file != "/srv/app/orders/handler.go" || frames[3].line != 88 {
		t.Errorf("unexpected frame %+v", frames[3])
	}
}

func TestOriginFrame(t *testing.T) {
	f, ok := originFrame([]byte(sampleStack))
	if !ok {
		t.Fatal("expected an origin frame")
	}
	if f.file != "/srv/app/orders/handler.go" || f.line != 88 {
		t.Errorf("unexpected origin %+v", f)
	}
}

func TestOriginFrame_Unparseable(t *testing.T) {
	tests := []struct {
		name  string
		stack string
	}{
		{"empty", ""},
		{"garbage", "not a stack\nat all"},
		{"runtime only", "goroutine 1 [running]:\nruntime.main()\n\t/usr/local/go/src/runtime/proc.go:272 +0x28\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if f, ok := originFrame([]byte(tt.stack)); ok {
				t.Errorf("expected no origin, got %+v", f)
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		file string
		line int
		ok   bool
	}{
		{"/a/b.go:12 +0x1f", "/a/b.go", 12, true},
		{"/a/b.go:12", "/a/b.go", 12, true},
		{`C:/src/app/main.go:7 +0x2`, "C:/src/app/main.go", 7, true},
		{"/a/b.go", "", 0, false},
		{"/a/b.go:x", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			file, line, ok := parseLocation(tt.in)
			if file != tt.file || line != tt.line || ok != tt.ok {
				t.Errorf("parseLocation(%q) = %q, %d, %v", tt.in, file, line, ok)
			}
		})
	}
}

// Recoverer inlined into the facade's middleware chain.
const inlinedRecovererStack = `goroutine 21 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
3tcapital/telescope/internal/telescope.(*Telescope).Middleware.Recoverer.func2.func3.1()
	/srv/app/internal/infrastructure/http/middleware/recover.go:34 +0x65
panic({0x8a2f40?, 0xc0000a6010?})
	/usr/local/go/src/runtime/panic.go:785 +0x132
example.com/shop/orders.(*Handler).Refund(0xc0000b2000, {0x9c1a48, 0xc0000d4000}, 0xc0000c6000)
	/srv/app/orders/handler.go:121 +0x1f
3tcapital/telescope/internal/telescope.(*Telescope).Middleware.Recoverer.func2.func3()
	/srv/app/internal/infrastructure/http/middleware/recover.go:52 +0x8a
`

const handledErrorStack = `goroutine 9 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
3tcapital/telescope/internal/application/exception.(*Hook).Capture(0xc0000b4000, {0x9c1a48, 0xc0000d4000}, {0x9c0000, 0xc0000a6020})
	/srv/app/internal/application/exception/hook.go:95 +0x9a
example.com/shop/orders.(*Handler).Cancel(0xc0000b2000, {0x9c1a48, 0xc0000d4000}, 0xc0000c6000)
	/srv/app/orders/handler.go:140 +0x44
`

func TestOriginFrame_SkipsCaptureCode(t *testing.T) {
	tests := []struct {
		name  string
		stack string
		line  int
	}{
		{"inlined recoverer closure", inlinedRecovererStack, 121},
		{"handled error", handledErrorStack, 140},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := originFrame([]byte(tt.stack))
			if !ok {
				t.Fatal("expected an origin frame")
			}
			if f.file != "/srv/app/orders/handler.go" || f.line != tt.line {
				t.Errorf("unexpected origin %+v", f)
			}
		})
	}
}
