package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

var numberToken = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

type dateLayout struct {
	layout   string
	withTime bool
}

var dateLayouts = []dateLayout{
	{time.RFC3339, true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
	{time.RFC1123Z, true},
	{time.RFC1123, true},
	{"2006-01-02", false},
	{"2006/01/02", false},
	{"01/02/2006", false},
	{"January 2, 2006", false},
	{"Jan 2, 2006", false},
	{"2 January 2006", false},
	{"2 Jan 2006", false},
	{"Monday, January 2, 2006", false},
}

// convert normalizes raw according to kind. ok is false when the value is dropped.
func convert(kind scraper.ValueKind, raw, pageURL string) (string, bool) {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if collapsed == "" {
		return "", false
	}
	switch kind {
	case scraper.ValueKindNumber:
		token := numberToken.FindString(collapsed)
		if token == "" {
			return "", false
		}
		return strings.ReplaceAll(token, ",", ""), true
	case scraper.ValueKindDate:
		return parseDate(collapsed)
	case scraper.ValueKindURL:
		return resolveURL(pageURL, collapsed)
	default:
		return collapsed, true
	}
}

func parseDate(s string) (string, bool) {
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.withTime {
			return t.Format(time.RFC3339), true
		}
		return t.Format("2006-01-02"), true
	}
	return "", false
}

func resolveURL(base, ref string) (string, bool) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if b, err := url.Parse(base); err == nil && base != "" {
		r = b.ResolveReference(r)
	}
	return r.String(), true
}
