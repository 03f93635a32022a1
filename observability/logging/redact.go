package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive field values in log output.
const RedactedValue = "[REDACTED]"

// cleartextKeys are the structured-log keys that may be emitted verbatim.
// Everything else passed through MaskField is redacted.
var cleartextKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"component": {},
	"kind":      {},
	"op":        {},
	"id":        {},
}

// MaskValue redacts a non-empty value. Empty strings pass through so absent
// fields stay visibly absent.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog.Attr whose value is redacted unless the key is a
// known cleartext key. Key casing is preserved.
func MaskField(key, value string) slog.Attr {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := cleartextKeys[normalized]; ok || strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
