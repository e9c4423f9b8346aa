// Package storage holds the blob archive helpers shared by the blob store
// providers. Archived bodies live under {prefix}/{target_id}/{job_id}/{hash}.{ext}.
package storage

import (
	"path"
	"strconv"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// ArchivePath builds the object key for a response body.
func ArchivePath(prefix string, targetID, jobID int64, contentHash string, kind scraper.ContentKind) string {
	return path.Join(
		prefix,
		strconv.FormatInt(targetID, 10),
		strconv.FormatInt(jobID, 10),
		contentHash+"."+Extension(kind),
	)
}

// Extension maps a content kind to the file extension used in archive keys.
func Extension(kind scraper.ContentKind) string {
	switch kind {
	case scraper.ContentKindHTML:
		return "html"
	case scraper.ContentKindJSON:
		return "json"
	case scraper.ContentKindText:
		return "txt"
	default:
		return "bin"
	}
}
