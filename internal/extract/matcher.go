package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

var errNotJSON = errors.New("body is not valid JSON")

type matcherKey struct {
	kind      scraper.RuleKind
	selector  string
	attribute string
}

// compiled memoizes matchers so each distinct rule is compiled once per process.
var compiled sync.Map

type matcher interface {
	match(doc *document) ([]string, error)
}

// Compile validates a rule and builds its matcher.
func Compile(rule scraper.Rule) error {
	_, err := compile(rule)
	return err
}

func compile(rule scraper.Rule) (matcher, error) {
	key := matcherKey{kind: rule.Kind, selector: rule.Selector, attribute: rule.Attribute}
	if m, ok := compiled.Load(key); ok {
		return m.(matcher), nil
	}
	m, err := build(rule)
	if err != nil {
		return nil, err
	}
	compiled.Store(key, m)
	return m, nil
}

func build(rule scraper.Rule) (matcher, error) {
	if strings.TrimSpace(rule.Selector) == "" {
		return nil, errors.New("selector is empty")
	}
	switch rule.Kind {
	case scraper.RuleKindSelector:
		sel, err := cascadia.Compile(rule.Selector)
		if err != nil {
			return nil, fmt.Errorf("compile selector: %w", err)
		}
		return &selectorMatcher{sel: sel, attr: rule.Attribute}, nil
	case scraper.RuleKindXPath:
		if _, err := xpath.Compile(rule.Selector); err != nil {
			return nil, fmt.Errorf("compile xpath: %w", err)
		}
		return &xpathMatcher{source: rule.Selector, attr: rule.Attribute}, nil
	case scraper.RuleKindPattern:
		re, err := regexp.Compile("(?im)" + rule.Selector)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		return &patternMatcher{re: re}, nil
	case scraper.RuleKindPath:
		return &pathMatcher{path: gjsonPath(rule.Selector)}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

type selectorMatcher struct {
	sel  cascadia.Selector
	attr string
}

func (m *selectorMatcher) match(doc *document) ([]string, error) {
	root, err := doc.html()
	if err != nil {
		return nil, err
	}
	var out []string
	goquery.NewDocumentFromNode(root).FindMatcher(m.sel).Each(func(_ int, s *goquery.Selection) {
		if m.attr != "" {
			if v, ok := s.Attr(m.attr); ok && v != "" {
				out = append(out, v)
			}
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out, nil
}

// xpathMatcher recompiles per match: an xpath.Expr carries evaluation
// state and must not be shared between goroutines.
type xpathMatcher struct {
	source string
	attr   string
}

func (m *xpathMatcher) match(doc *document) ([]string, error) {
	root, err := doc.html()
	if err != nil {
		return nil, err
	}
	expr, err := xpath.Compile(m.source)
	if err != nil {
		return nil, fmt.Errorf("compile xpath: %w", err)
	}
	switch result := expr.Evaluate(htmlquery.CreateXPathNavigator(root)).(type) {
	case *xpath.NodeIterator:
		var out []string
		for result.MoveNext() {
			nav, ok := result.Current().(*htmlquery.NodeNavigator)
			if !ok {
				continue
			}
			var value string
			switch {
			case nav.NodeType() == xpath.AttributeNode:
				value = nav.Value()
			case m.attr != "":
				value = htmlquery.SelectAttr(nav.Current(), m.attr)
			default:
				value = htmlquery.InnerText(nav.Current())
			}
			if value = strings.TrimSpace(value); value != "" {
				out = append(out, value)
			}
		}
		return out, nil
	case string:
		if result == "" {
			return nil, nil
		}
		return []string{result}, nil
	case float64:
		return []string{strconv.FormatFloat(result, 'f', -1, 64)}, nil
	case bool:
		return []string{strconv.FormatBool(result)}, nil
	default:
		return nil, fmt.Errorf("unsupported xpath result %T", result)
	}
}

type patternMatcher struct {
	re *regexp.Regexp
}

func (m *patternMatcher) match(doc *document) ([]string, error) {
	var out []string
	for _, groups := range m.re.FindAllStringSubmatch(doc.raw, -1) {
		if len(groups) == 1 {
			out = append(out, groups[0])
			continue
		}
		for _, g := range groups[1:] {
			if g != "" {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

type pathMatcher struct {
	path string
}

func (m *pathMatcher) match(doc *document) ([]string, error) {
	if !gjson.Valid(doc.raw) {
		return nil, errNotJSON
	}
	result := gjson.Get(doc.raw, m.path)
	if !result.Exists() || result.Type == gjson.Null {
		return nil, nil
	}
	if !result.IsArray() {
		return []string{jsonValue(result)}, nil
	}
	var out []string
	result.ForEach(func(_, item gjson.Result) bool {
		if item.Type != gjson.Null {
			out = append(out, jsonValue(item))
		}
		return true
	})
	return out, nil
}

func jsonValue(r gjson.Result) string {
	if r.IsObject() || r.IsArray() {
		return r.Raw
	}
	return r.String()
}

// gjsonPath escapes gjson syntax so the selector is read as plain
// dot-separated keys and array indexes.
func gjsonPath(selector string) string {
	parts := strings.Split(selector, ".")
	for i, part := range parts {
		var b strings.Builder
		for _, r := range part {
			switch r {
			case '*', '?', '#', '@', '|', '!', '=', '<', '>', '%', '\\':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, ".")
}
