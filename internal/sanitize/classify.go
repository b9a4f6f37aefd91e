package sanitize

import "strings"

// Classifier reports whether a tool response's content indicates success.
type Classifier func(content string) bool

// ErrorSubstringClassifier treats any response mentioning "error" (in any
// case) as a failure.
func ErrorSubstringClassifier(content string) bool {
	return !containsAny(content, "error")
}

// FailureMarkers builds a Classifier that fails a response when it contains
// any of the given patterns, case-insensitively. Use it to narrow the default
// heuristic, e.g. FailureMarkers("Error:", `"error":`).
func FailureMarkers(patterns ...string) Classifier {
	return func(content string) bool {
		return !containsAny(content, patterns...)
	}
}

func containsAny(s string, patterns ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
