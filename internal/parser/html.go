package parser

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const (
	minCandidateRunes = 100
	minBlockRunes     = 50
)

// contentCandidates are tried in order; the first with enough text wins.
var contentCandidates = compileAll(
	"main",
	"article",
	`[role="main"]`,
	".content",
	".main-content",
	".post-content",
	".entry-content",
	"#content",
	"#main",
	".container .row .col",
)

var (
	boilerplate = cascadia.MustCompile(
		"nav, header, footer, aside, .advertisement, .ad, .ads, .navigation, .nav, .menu, " +
			".sidebar, .widget, .social, .share, .comments, .comment, script, style, noscript",
	)
	textBlocks = cascadia.MustCompile("p, div, section")
)

func compileAll(selectors ...string) []cascadia.Selector {
	out := make([]cascadia.Selector, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, cascadia.MustCompile(s))
	}
	return out
}

func parseHTML(body []byte, pageURL string) scraper.ParsedContent {
	parsed := scraper.ParsedContent{Kind: scraper.ContentKindHTML}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		parsed.RawNormalized = truncate(sanitizeText(string(body)), MaxNormalizedBytes)
		parsed.Err = &scraper.ParseError{Kind: scraper.ContentKindHTML, Err: err}
		return parsed
	}
	doc := goquery.NewDocumentFromNode(root)

	parsed.Title = strings.TrimSpace(doc.Find("title").First().Text())
	parsed.Metadata = extractMetadata(doc, pageURL)
	parsed.Content = mainContent(doc)

	normalized, err := normalize(root)
	if err != nil {
		parsed.RawNormalized = truncate(sanitizeText(string(body)), MaxNormalizedBytes)
		parsed.Err = &scraper.ParseError{Kind: scraper.ContentKindHTML, Err: err}
		return parsed
	}
	parsed.RawNormalized = truncate(sanitizeText(normalized), MaxNormalizedBytes)
	return parsed
}

func mainContent(doc *goquery.Document) string {
	for _, candidate := range contentCandidates {
		match := doc.FindMatcher(candidate).First()
		if match.Length() == 0 {
			continue
		}
		clone := match.Clone()
		clone.FindMatcher(boilerplate).Remove()
		text := joinedText(clone.Nodes[0], "\n")
		if utf8.RuneCountInString(text) > minCandidateRunes {
			return text
		}
	}

	var best string
	bestLen := 0
	doc.FindMatcher(textBlocks).Each(func(_ int, s *goquery.Selection) {
		text := joinedText(s.Nodes[0], "")
		if n := utf8.RuneCountInString(text); n > minBlockRunes && n > bestLen {
			best, bestLen = text, n
		}
	})
	return best
}

// joinedText collects trimmed, non-empty text nodes under n, skipping
// script-like elements, and joins them with sep.
func joinedText(n *html.Node, sep string) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			if t := strings.TrimSpace(node.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if isScriptLike(node.Data) {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, sep)
}

func isScriptLike(tag string) bool {
	switch tag {
	case "script", "style", "noscript":
		return true
	}
	return false
}

// normalize strips script-like elements and comments in place and renders the tree.
func normalize(root *html.Node) (string, error) {
	var strip func(*html.Node)
	strip = func(node *html.Node) {
		for c := node.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.CommentNode || (c.Type == html.ElementNode && isScriptLike(c.Data)) {
				node.RemoveChild(c)
			} else {
				strip(c)
			}
			c = next
		}
	}
	strip(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
