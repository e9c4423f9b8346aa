package parser

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractMetadata collects meta tags, Open Graph and Twitter card values,
// JSON-LD blocks, the canonical link and the document language.
func extractMetadata(doc *goquery.Document, pageURL string) map[string]any {
	metadata := map[string]any{}
	openGraph := map[string]string{}
	twitter := map[string]string{}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || content == "" {
			return
		}
		name := s.AttrOr("name", "")
		if name == "" {
			name = s.AttrOr("property", "")
		}
		if name == "" {
			return
		}
		metadata[name] = content

		if property := s.AttrOr("property", ""); strings.HasPrefix(property, "og:") {
			if key := strings.TrimPrefix(property, "og:"); key != "" {
				openGraph[key] = content
			}
		}
		if n := s.AttrOr("name", ""); strings.HasPrefix(n, "twitter:") {
			if key := strings.TrimPrefix(n, "twitter:"); key != "" {
				twitter[key] = content
			}
		}
	})
	if len(openGraph) > 0 {
		metadata["open_graph"] = openGraph
	}
	if len(twitter) > 0 {
		metadata["twitter_card"] = twitter
	}

	var structured []any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err == nil {
			structured = append(structured, data)
		}
	})
	if len(structured) > 0 {
		metadata["structured_data"] = structured
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && href != "" {
		metadata["canonical"] = resolve(pageURL, href)
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		metadata["language"] = lang
	}
	return metadata
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
