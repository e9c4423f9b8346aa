package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const (
	// MaxNormalizedBytes caps the stored normalized HTML body.
	MaxNormalizedBytes = 50000
	truncatedSuffix    = "...[truncated]"
	textPreviewLines   = 5
)

// Parse dispatches on content kind. Unknown kinds are treated as text.
func Parse(kind scraper.ContentKind, body []byte, pageURL string) scraper.ParsedContent {
	switch kind {
	case scraper.ContentKindHTML:
		return parseHTML(body, pageURL)
	case scraper.ContentKindJSON:
		return parseJSON(body)
	default:
		parsed := parseText(body)
		parsed.Kind = kind
		return parsed
	}
}

func parseText(body []byte) scraper.ParsedContent {
	text := sanitizeText(string(body))
	parsed := scraper.ParsedContent{
		Kind:          scraper.ContentKindText,
		RawNormalized: text,
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == textPreviewLines {
			break
		}
	}
	if len(lines) > 0 {
		parsed.Title = lines[0]
		parsed.Content = strings.Join(lines, "\n")
	}
	return parsed
}

// sanitizeText makes arbitrary bytes safe to store as text.
func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	return strings.ReplaceAll(s, "\x00", "")
}

// truncate cuts s to at most limit bytes on a rune boundary and marks the cut.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}
