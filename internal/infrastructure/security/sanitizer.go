package security

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	redactedValue = "[REDACTED]"

	// ProjectRootPlaceholder replaces the project root in persisted file paths.
	ProjectRootPlaceholder = "[PROJECT_ROOT]"
)

// Header names whose values never reach storage when redaction is on.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"proxy-authorization": true,
}

// Substrings marking a JSON field or query parameter as sensitive.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"private_key",
	"credential",
}

var sourceSecrets = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`password\s*=\s*['"][^'"]*['"]`), `password = "[REDACTED]"`},
	{regexp.MustCompile(`api_key\s*=\s*['"][^'"]*['"]`), `api_key = "[REDACTED]"`},
	{regexp.MustCompile(`Bearer\s+[^'"]*`), `Bearer = "[REDACTED]"`},
}

// RedactSource masks obvious secrets in a line of source code.
func RedactSource(line string) string {
	for _, s := range sourceSecrets {
		line = s.pattern.ReplaceAllString(line, s.replacement)
	}
	return line
}

// SanitizePath replaces every occurrence of root in s with a placeholder so
// stored paths and stacks do not leak the local filesystem layout.
func SanitizePath(s, root string) string {
	root = strings.TrimRight(root, `/\`)
	if root == "" {
		return s
	}
	return strings.ReplaceAll(s, root, ProjectRootPlaceholder)
}

// FlattenHeaders lowercases header names and joins repeated values. When
// redact is set, credentials are replaced by a placeholder.
func FlattenHeaders(headers http.Header, redact bool) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		lowerKey := strings.ToLower(key)
		if redact && sensitiveHeaders[lowerKey] {
			flat[lowerKey] = redactedValue
			continue
		}
		flat[lowerKey] = strings.Join(values, ", ")
	}
	return flat
}

// NormalizeBody converts captured body bytes into a JSON value for storage.
// JSON bodies are kept as-is (with sensitive fields masked when redact is
// set), text becomes a JSON string and binary data a base64 wrapper.
func NormalizeBody(body []byte, redact bool) json.RawMessage {
	if len(body) == 0 {
		return nil
	}

	if !utf8.Valid(body) {
		wrapped, _ := json.Marshal(map[string]any{
			"_binary": true,
			"_size":   len(body),
			"_base64": base64.StdEncoding.EncodeToString(body),
		})
		return wrapped
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		text, _ := json.Marshal(string(body))
		return text
	}

	if !redact {
		return json.RawMessage(append([]byte(nil), body...))
	}

	sanitized, err := json.Marshal(redactValue(data))
	if err != nil {
		text, _ := json.Marshal(string(body))
		return text
	}
	return sanitized
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, value := range val {
			if isSensitive(key) {
				out[key] = redactedValue
			} else {
				out[key] = redactValue(value)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, value := range val {
			out[i] = redactValue(value)
		}
		return out
	default:
		return val
	}
}

func isSensitive(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerKey, field) {
			return true
		}
	}
	return false
}

// SanitizeURL masks sensitive query parameters of a request URI.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	query := u.Query()
	changed := false
	for key := range query {
		if isSensitive(key) {
			query.Set(key, redactedValue)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}
