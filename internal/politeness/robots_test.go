package politeness

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRobotsAllowed(t *testing.T) {
	t.Parallel()

	body := `
# comment line
User-agent: *
Disallow: /private
Allow: /private/public
Disallow:

User-agent: SpecialBot
Disallow: /special

User-agent: OtherBot
Disallow: /other
`
	rules := parseRobots(body)
	cases := []struct {
		name  string
		path  string
		agent string
		want  bool
	}{
		{"root allowed", "/", "AnyBot", true},
		{"prefix disallowed", "/private/data", "AnyBot", false},
		{"longer allow wins", "/private/public/page", "AnyBot", true},
		{"exact agent group merged", "/special/x", "SpecialBot", false},
		{"agent match is case-insensitive", "/special/x", "specialbot", false},
		{"other agent group ignored", "/other", "SpecialBot", true},
		{"star still applies to named agent", "/private", "SpecialBot", false},
		{"substring agent does not match", "/special", "SpecialBot/2.0", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, rules.allowed(tc.path, tc.agent))
		})
	}
}

func TestRobotsBareDisallowBlocksEverything(t *testing.T) {
	t.Parallel()

	rules := parseRobots("User-agent: *\nAllow: /public\nDisallow: /\n")
	require.False(t, rules.allowed("/", "bot"))
	require.False(t, rules.allowed("/public/page", "bot"))
}

func TestRobotsEmptyBodyAllowsAll(t *testing.T) {
	t.Parallel()

	require.True(t, parseRobots("").allowed("/anything", "bot"))
}

func TestRobotsGroupWithSharedAgents(t *testing.T) {
	t.Parallel()

	rules := parseRobots("User-agent: a\nUser-agent: b\nDisallow: /x\n")
	require.False(t, rules.allowed("/x", "a"))
	require.False(t, rules.allowed("/x", "b"))
	require.True(t, rules.allowed("/x", "c"))
}

func TestRequestPathIncludesQuery(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://example.test/search?q=go")
	require.NoError(t, err)
	require.Equal(t, "/search?q=go", requestPath(u))

	u, err = url.Parse("https://example.test")
	require.NoError(t, err)
	require.Equal(t, "/", requestPath(u))
}

func TestCrawlDelay(t *testing.T) {
	t.Parallel()

	body := "User-agent: *\nCrawl-delay: 7\nDisallow: /tmp\n"
	require.Equal(t, 7*time.Second, crawlDelay(body, "bot"))
	require.Zero(t, crawlDelay("", "bot"))
}
