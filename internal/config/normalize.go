package config

import (
	"regexp"
	"strings"
)

const DefaultSessionID = "default"

var (
	validSessionRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	invalidChars   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	leadingDash    = regexp.MustCompile(`^[-_]+`)
	trailingDash   = regexp.MustCompile(`-+$`)
)

// NormalizeSessionID turns a client-supplied session id into a safe key:
//   - max 64 chars
//   - only [A-Za-z0-9_-] allowed, anything else becomes "-"
//   - leading separators and trailing dashes stripped
//   - empty result is "default"
func NormalizeSessionID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return DefaultSessionID
	}
	if validSessionRe.MatchString(trimmed) {
		return trimmed
	}

	result := invalidChars.ReplaceAllString(trimmed, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultSessionID
	}
	return result
}
