package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const articlePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title> Daily News </title>
  <meta name="description" content="All the news">
  <meta property="og:title" content="OG News">
  <meta name="twitter:card" content="summary">
  <link rel="canonical" href="/news/today">
  <script type="application/ld+json">{"@type":"NewsArticle","headline":"Lead"}</script>
  <script>var tracking = true;</script>
  <style>body { color: red; }</style>
</head>
<body>
  <nav>Home | About | Contact</nav>
  <!-- build 1234 -->
  <article>
    <header>Posted today</header>
    <p>The council approved the new budget after a long debate that lasted well into the evening hours.</p>
    <p>Residents will see changes starting next month.</p>
    <aside class="share">Share this</aside>
  </article>
</body>
</html>`

func TestParseHTML(t *testing.T) {
	t.Parallel()

	parsed := Parse(scraper.ContentKindHTML, []byte(articlePage), "https://example.com/news")
	require.NoError(t, parsed.Err)
	require.Equal(t, scraper.ContentKindHTML, parsed.Kind)
	require.Equal(t, "Daily News", parsed.Title)

	require.Contains(t, parsed.Content, "The council approved the new budget")
	require.Contains(t, parsed.Content, "\nResidents will see changes")
	require.NotContains(t, parsed.Content, "Posted today")
	require.NotContains(t, parsed.Content, "Share this")

	require.NotContains(t, parsed.RawNormalized, "tracking")
	require.NotContains(t, parsed.RawNormalized, "color: red")
	require.NotContains(t, parsed.RawNormalized, "build 1234")
	require.Contains(t, parsed.RawNormalized, "<nav>Home | About | Contact</nav>")

	require.Equal(t, "All the news", parsed.Metadata["description"])
	require.Equal(t, map[string]string{"title": "OG News"}, parsed.Metadata["open_graph"])
	require.Equal(t, map[string]string{"card": "summary"}, parsed.Metadata["twitter_card"])
	require.Equal(t, "https://example.com/news/today", parsed.Metadata["canonical"])
	require.Equal(t, "en", parsed.Metadata["language"])
	structured, ok := parsed.Metadata["structured_data"].([]any)
	require.True(t, ok)
	require.Len(t, structured, 1)
}

func TestParseHTMLFallsBackToLargestBlock(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div><span>short</span></div>
<p>` + strings.Repeat("word ", 20) + `</p>
<section>` + strings.Repeat("longer text ", 10) + `</section>
</body></html>`

	parsed := Parse(scraper.ContentKindHTML, []byte(page), "https://example.com")
	require.Equal(t, strings.TrimSpace(strings.Repeat("longer text ", 10)), parsed.Content)
}

func TestParseHTMLShortCandidateSkipped(t *testing.T) {
	t.Parallel()

	page := `<html><body><main>tiny</main><p>` + strings.Repeat("a", 60) + `</p></body></html>`
	parsed := Parse(scraper.ContentKindHTML, []byte(page), "https://example.com")
	require.Equal(t, strings.Repeat("a", 60), parsed.Content)
}

func TestParseHTMLTruncatesNormalizedBody(t *testing.T) {
	t.Parallel()

	page := "<html><body><p>" + strings.Repeat("é", MaxNormalizedBytes) + "</p></body></html>"
	parsed := Parse(scraper.ContentKindHTML, []byte(page), "https://example.com")
	require.True(t, strings.HasSuffix(parsed.RawNormalized, truncatedSuffix))
	require.LessOrEqual(t, len(parsed.RawNormalized), MaxNormalizedBytes+len(truncatedSuffix))
	require.True(t, utf8.ValidString(parsed.RawNormalized))
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	parsed := Parse(scraper.ContentKindJSON, []byte(`{"name":"Widget","title":"","body":"Text","zeta":1,"alpha":2}`), "")
	require.NoError(t, parsed.Err)
	require.Equal(t, "Widget", parsed.Title)
	require.Equal(t, "Text", parsed.Content)
	require.Equal(t, true, parsed.Metadata["is_json"])
	require.Equal(t, []string{"alpha", "body", "name", "title", "zeta"}, parsed.Metadata["data_keys"])
}

func TestParseJSONArray(t *testing.T) {
	t.Parallel()

	parsed := Parse(scraper.ContentKindJSON, []byte(`[1,2,3]`), "")
	require.NoError(t, parsed.Err)
	require.Empty(t, parsed.Title)
	require.Equal(t, []string{}, parsed.Metadata["data_keys"])
	require.Equal(t, "[1,2,3]", parsed.RawNormalized)
}

func TestParseJSONInvalidDegrades(t *testing.T) {
	t.Parallel()

	parsed := Parse(scraper.ContentKindJSON, []byte(`{"broken":`), "")
	var parseErr *scraper.ParseError
	require.ErrorAs(t, parsed.Err, &parseErr)
	require.Equal(t, scraper.ContentKindJSON, parseErr.Kind)
	require.Equal(t, `{"broken":`, parsed.RawNormalized)
}

func TestParseText(t *testing.T) {
	t.Parallel()

	body := "\n  First line  \nsecond\n\nthird\nfourth\nfifth\nsixth\n"
	parsed := Parse(scraper.ContentKindText, []byte(body), "")
	require.Equal(t, "First line", parsed.Title)
	require.Equal(t, "First line\nsecond\nthird\nfourth\nfifth", parsed.Content)
	require.Equal(t, body, parsed.RawNormalized)
}

func TestParseOtherTreatedAsText(t *testing.T) {
	t.Parallel()

	parsed := Parse(scraper.ContentKindOther, []byte("bin\x00ary\xff"), "")
	require.Equal(t, scraper.ContentKindOther, parsed.Kind)
	require.Equal(t, "binary�", parsed.Title)
	require.True(t, utf8.ValidString(parsed.RawNormalized))
}

func TestTruncateRuneBoundary(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "a"+truncatedSuffix, truncate("aé", 2))
}
