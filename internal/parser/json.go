package parser

import (
	"encoding/json"
	"sort"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

var (
	jsonTitleKeys   = []string{"title", "name", "headline"}
	jsonContentKeys = []string{"content", "body", "description"}
)

func parseJSON(body []byte) scraper.ParsedContent {
	raw := sanitizeText(string(body))
	parsed := scraper.ParsedContent{
		Kind:          scraper.ContentKindJSON,
		RawNormalized: raw,
		Metadata:      map[string]any{"is_json": true, "data_keys": []string{}},
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		parsed.Err = &scraper.ParseError{Kind: scraper.ContentKindJSON, Err: err}
		return parsed
	}

	object, ok := data.(map[string]any)
	if !ok {
		return parsed
	}
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parsed.Metadata["data_keys"] = keys
	parsed.Title = firstString(object, jsonTitleKeys)
	parsed.Content = firstString(object, jsonContentKeys)
	return parsed
}

func firstString(object map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := object[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
