package collyfetcher

import (
	"mime"
	"strings"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Classify maps a Content-Type header onto a coarse content kind.
func Classify(contentType string) scraper.ContentKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return scraper.ContentKindHTML
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return scraper.ContentKindJSON
	case strings.HasPrefix(mediaType, "text/"):
		return scraper.ContentKindText
	default:
		return scraper.ContentKindOther
	}
}
