package politeness

import (
	"bufio"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

type robotsGroup struct {
	agents   []string
	allow    []string
	disallow []string
}

// robotsRules is a parsed robots.txt reduced to prefix rules per agent group.
type robotsRules struct {
	groups []robotsGroup
}

func parseRobots(body string) robotsRules {
	var (
		rules   robotsRules
		current *robotsGroup
		inRules bool
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if current == nil || inRules {
				rules.groups = append(rules.groups, robotsGroup{})
				current = &rules.groups[len(rules.groups)-1]
				inRules = false
			}
			current.agents = append(current.agents, strings.ToLower(value))
		case "allow", "disallow":
			if current == nil {
				continue
			}
			inRules = true
			if value == "" {
				continue
			}
			if key == "allow" {
				current.allow = append(current.allow, value)
			} else {
				current.disallow = append(current.disallow, value)
			}
		}
	}
	return rules
}

func (g robotsGroup) appliesTo(userAgent string) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	for _, agent := range g.agents {
		if agent == "*" || (ua != "" && agent == ua) {
			return true
		}
	}
	return false
}

// allowed merges every group for "*" and the exact agent. A bare "Disallow: /"
// blocks everything; otherwise the longest matching Allow beats a shorter Disallow.
func (r robotsRules) allowed(path, userAgent string) bool {
	longestDisallow, longestAllow := -1, -1
	for _, g := range r.groups {
		if !g.appliesTo(userAgent) {
			continue
		}
		for _, d := range g.disallow {
			if d == "/" {
				return false
			}
			if strings.HasPrefix(path, d) && len(d) > longestDisallow {
				longestDisallow = len(d)
			}
		}
		for _, a := range g.allow {
			if strings.HasPrefix(path, a) && len(a) > longestAllow {
				longestAllow = len(a)
			}
		}
	}
	if longestDisallow < 0 {
		return true
	}
	return longestAllow >= longestDisallow
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// crawlDelay reads the Crawl-delay directive that applies to userAgent.
func crawlDelay(body, userAgent string) time.Duration {
	data, err := robotstxt.FromString(body)
	if err != nil {
		return 0
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}
