package util

import (
	"regexp"
	"strings"
)

const (
	// MaxStringLength is the maximum length of a string leaf value stored with
	// an event. Longer values are truncated before persistence.
	MaxStringLength = 1000

	// MaxSanitizeLength is the maximum input length for log sanitization.
	MaxSanitizeLength = 1024 * 1024 // 1MB
)

// sensitiveSubstrings are matched case-insensitively as substrings of map keys.
// Any key containing one of these is stripped entirely during scrubbing.
var sensitiveSubstrings = []string{"password", "secret", "token"}

// IsSensitiveKey reports whether a map key must never reach storage.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// TruncateString caps a string at MaxStringLength characters. The limit is
// counted in runes, not bytes, so multibyte text is never cut mid-rune.
func TruncateString(s string) string {
	if len(s) <= MaxStringLength {
		return s
	}
	runes := []rune(s)
	if len(runes) <= MaxStringLength {
		return s
	}
	return string(runes[:MaxStringLength])
}

// ScrubMap returns a copy of m with sensitive keys removed at every nesting
// depth and string leaf values truncated to MaxStringLength. Nested maps and
// slices are scrubbed recursively. A nil input yields nil.
func ScrubMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			continue
		}
		result[k] = scrubValue(v)
	}
	return result
}

func scrubValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return TruncateString(val)
	case map[string]interface{}:
		return ScrubMap(val)
	case []interface{}:
		scrubbed := make([]interface{}, len(val))
		for i, item := range val {
			scrubbed[i] = scrubValue(item)
		}
		return scrubbed
	default:
		return v
	}
}

// Pattern replacements for sensitive data that may leak into error strings.
var logPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(token|auth|authorization)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(secret|client[_-]?secret)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
}

// SanitizeString redacts sensitive data patterns from a string before logging.
// Input is truncated to MaxSanitizeLength to prevent memory exhaustion.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	result := s
	for _, p := range logPatterns {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	return result
}

// SanitizeError sanitizes an error message before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}
