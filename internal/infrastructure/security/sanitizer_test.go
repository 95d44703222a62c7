package security

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestRedactSource(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{
			name:     "password assignment",
			line:     `	password = "hunter2"`,
			expected: `	password = "[REDACTED]"`,
		},
		{
			name:     "api key without spaces",
			line:     `cfg.api_key='abc123'`,
			expected: `cfg.api_key = "[REDACTED]"`,
		},
		{
			name:     "bearer token",
			line:     `req.Header.Set("Authorization", "Bearer eyJhbGciOi")`,
			expected: `req.Header.Set("Authorization", "Bearer = "[REDACTED]"")`,
		},
		{
			name:     "clean line untouched",
			line:     `return fmt.Errorf("boom")`,
			expected: `return fmt.Errorf("boom")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactSource(tt.line); got != tt.expected {
				t.Errorf("RedactSource() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		root     string
		expected string
	}{
		{"file under root", "/home/dev/app/handlers/user.go", "/home/dev/app", "[PROJECT_ROOT]/handlers/user.go"},
		{"trailing slash root", "/home/dev/app/main.go", "/home/dev/app/", "[PROJECT_ROOT]/main.go"},
		{"stack with many frames", "/srv/x/a.go:1\n/srv/x/b.go:2", "/srv/x", "[PROJECT_ROOT]/a.go:1\n[PROJECT_ROOT]/b.go:2"},
		{"outside root", "/usr/local/go/src/net/http/server.go", "/home/dev/app", "/usr/local/go/src/net/http/server.go"},
		{"empty root", "/a/b.go", "", "/a/b.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizePath(tt.input, tt.root); got != tt.expected {
				t.Errorf("SanitizePath() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFlattenHeaders(t *testing.T) {
	headers := http.Header{
		"Authorization": []string{"Bearer secret-token"},
		"Cookie":        []string{"session=abc123"},
		"Content-Type":  []string{"application/json"},
		"Accept":        []string{"application/json", "text/html"},
	}

	tests := []struct {
		name     string
		redact   bool
		expected map[string]string
	}{
		{
			name:   "redaction on",
			redact: true,
			expected: map[string]string{
				"authorization": "[REDACTED]",
				"cookie":        "[REDACTED]",
				"content-type":  "application/json",
				"accept":        "application/json, text/html",
			},
		},
		{
			name:   "redaction off",
			redact: false,
			expected: map[string]string{
				"authorization": "Bearer secret-token",
				"cookie":        "session=abc123",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FlattenHeaders(headers, tt.redact)
			for key, want := range tt.expected {
				if result[key] != want {
					t.Errorf("expected %s=%s, got %s", key, want, result[key])
				}
			}
		})
	}
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		redact      bool
		expectation func(t *testing.T, result json.RawMessage)
	}{
		{
			name: "empty body",
			body: nil,
			expectation: func(t *testing.T, result json.RawMessage) {
				if result != nil {
					t.Errorf("expected nil, got %s", result)
				}
			},
		},
		{
			name: "json kept verbatim",
			body: []byte(`{"user":"ada","password":"x"}`),
			expectation: func(t *testing.T, result json.RawMessage) {
				if string(result) != `{"user":"ada","password":"x"}` {
					t.Errorf("unexpected body %s", result)
				}
			},
		},
		{
			name:   "json redacted",
			body:   []byte(`{"user":"ada","nested":{"api_key":"k"},"list":[{"token":"t"}]}`),
			redact: true,
			expectation: func(t *testing.T, result json.RawMessage) {
				s := string(result)
				if strings.Contains(s, `"k"`) || strings.Contains(s, `"t"`) {
					t.Errorf("secrets leaked: %s", s)
				}
				if !strings.Contains(s, `"ada"`) {
					t.Errorf("plain field lost: %s", s)
				}
			},
		},
		{
			name: "text becomes json string",
			body: []byte("name=ada&x=1"),
			expectation: func(t *testing.T, result json.RawMessage) {
				var s string
				if err := json.Unmarshal(result, &s); err != nil || s != "name=ada&x=1" {
					t.Errorf("expected JSON string, got %s", result)
				}
			},
		},
		{
			name: "binary wrapped",
			body: []byte{0xff, 0xfe, 0x00, 0x01},
			expectation: func(t *testing.T, result json.RawMessage) {
				var m map[string]any
				if err := json.Unmarshal(result, &m); err != nil {
					t.Fatalf("invalid JSON: %v", err)
				}
				if m["_binary"] != true || m["_base64"] == "" {
					t.Errorf("unexpected wrapper: %v", m)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.expectation(t, NormalizeBody(tt.body, tt.redact))
		})
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no query", "/users/1", "/users/1"},
		{"clean query", "/users?page=2", "/users?page=2"},
		{"token param", "/hook?token=abc&page=2", "/hook?page=2&token=%5BREDACTED%5D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeURL(tt.input); got != tt.expected {
				t.Errorf("SanitizeURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}
