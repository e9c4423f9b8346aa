package extract

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const maxDefaultLinks = 10

// Extract applies the active rules in ascending priority (ties by name).
// A failing rule is reported and skipped; the first rule to populate a key
// keeps it. With no active rules a default heuristic is used.
func Extract(rules []scraper.Rule, parsed scraper.ParsedContent, pageURL string) (scraper.Fields, []error) {
	active := make([]scraper.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return defaults(parsed, pageURL), nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].Name < active[j].Name
	})

	doc := newDocument(parsed.RawNormalized)
	fields := scraper.Fields{}
	var errs []error
	for _, rule := range active {
		if _, taken := fields[rule.Name]; taken {
			continue
		}
		value, ok, err := apply(rule, doc, pageURL)
		if err != nil {
			metrics.ObserveRuleFailure(string(rule.Kind))
			errs = append(errs, &scraper.ExtractionRuleError{Rule: rule.Name, Kind: rule.Kind, Err: err})
			continue
		}
		if ok {
			fields[rule.Name] = value
		}
	}
	return fields, errs
}

func apply(rule scraper.Rule, doc *document, pageURL string) (scraper.Value, bool, error) {
	m, err := compile(rule)
	if err != nil {
		return scraper.Value{}, false, err
	}
	matches, err := m.match(doc)
	if err != nil {
		return scraper.Value{}, false, err
	}
	converted := make([]string, 0, len(matches))
	for _, raw := range matches {
		if v, ok := convert(rule.ValueKind, raw, pageURL); ok {
			converted = append(converted, v)
		}
	}
	value, ok := scraper.FromMatches(converted)
	return value, ok, nil
}

// defaults produces title, first_paragraph and links when no rules apply.
func defaults(parsed scraper.ParsedContent, pageURL string) scraper.Fields {
	fields := scraper.Fields{}
	if parsed.Title != "" {
		fields["title"] = scraper.Scalar(parsed.Title)
	}
	if parsed.Kind != scraper.ContentKindHTML {
		return fields
	}
	root, err := newDocument(parsed.RawNormalized).html()
	if err != nil {
		return fields
	}
	doc := goquery.NewDocumentFromNode(root)

	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.TrimSpace(s.Text()); text != "" {
			fields["first_paragraph"] = scraper.Scalar(text)
			return false
		}
		return true
	})

	if links := collectLinks(doc, pageURL); len(links) > 0 {
		fields["links"] = scraper.List(links)
	}
	return fields
}

func collectLinks(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	seen := map[string]struct{}{}
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		ref, err := url.Parse(href)
		if href == "" || err != nil {
			return true
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return true
		}
		ref.Fragment = ""
		abs := ref.String()
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
		return len(links) < maxDefaultLinks
	})
	return links
}
