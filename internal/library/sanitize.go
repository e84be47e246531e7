package library

import (
	"strings"
	"unicode"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
	maxTagLen         = 50
)

// SanitizeText drops control characters (keeping newlines when multiline),
// trims, and truncates to maxLen runes.
func SanitizeText(s string, maxLen int, multiline bool) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) && !(multiline && (r == '\n' || r == '\t')) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ParseTags splits a comma separated tag list, dropping blanks and
// duplicates by slug.
func ParseTags(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Split(raw, ",") {
		name := SanitizeText(t, maxTagLen, false)
		slug := Slugify(name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, name)
	}
	return out
}
