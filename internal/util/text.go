package util

import "strings"

// SanitizeText drops NUL bytes and invalid UTF-8, which Postgres rejects in
// text and jsonb values. Everything else, whitespace included, is kept so
// imported values match exactly like upserted ones.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}
	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// SanitizeOptional applies SanitizeText to an optional value.
func SanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	s := SanitizeText(*value)
	return &s
}
