// Package robots parses robots.txt into per-bot rule sets and caches them per origin.
package robots

import (
	"bufio"
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"aeo-audit/pkg/models"
)

type group struct {
	agents   []string
	allow    []string
	disallow []string
}

// Parse groups directives by User-agent block and keeps the rules of the group
// naming botName exactly, falling back to the "*" group.
// Consecutive User-agent lines share one group; repeated groups for the same agent are merged.
func Parse(body []byte, botName string, fetchedAt time.Time) *models.RobotsPolicy {
	groups := parseGroups(body)
	bot := strings.ToLower(strings.TrimSpace(botName))

	policy := &models.RobotsPolicy{FetchedAt: fetchedAt, MatchedGroup: models.RobotsGroupNone}

	if collect(groups, bot, policy) {
		policy.MatchedGroup = models.RobotsGroupExact
	} else if collect(groups, "*", policy) {
		policy.MatchedGroup = models.RobotsGroupWildcard
	}

	// Sitemap lines and crawl delay come from the robotstxt library.
	if data, err := robotstxt.FromBytes(body); err == nil {
		policy.Sitemaps = append(policy.Sitemaps, data.Sitemaps...)
		if policy.MatchedGroup != models.RobotsGroupNone {
			if g := data.FindGroup(botName); g != nil {
				policy.CrawlDelay = g.CrawlDelay
			}
		}
	}
	return policy
}

// AllowAll is the policy used when robots.txt is absent or unreadable
func AllowAll(fetchedAt time.Time) *models.RobotsPolicy {
	return &models.RobotsPolicy{FetchedAt: fetchedAt, MatchedGroup: models.RobotsGroupNone}
}

// DenyAll returns a policy that disallows every path. It is handed to callers whose context
// ended before the policy was known and is never cached.
func DenyAll(fetchedAt time.Time) *models.RobotsPolicy {
	return &models.RobotsPolicy{FetchedAt: fetchedAt, MatchedGroup: models.RobotsGroupNone, Disallow: []string{"/"}}
}

func collect(groups []group, agent string, policy *models.RobotsPolicy) bool {
	matched := false
	for _, g := range groups {
		for _, a := range g.agents {
			if a == agent {
				matched = true
				policy.Allow = append(policy.Allow, g.allow...)
				policy.Disallow = append(policy.Disallow, g.disallow...)
				break
			}
		}
	}
	return matched
}

func parseGroups(body []byte) []group {
	var groups []group
	var current *group
	inAgentLines := false

	scanner := bufio.NewScanner(bytes.NewReader(body))
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
			if !inAgentLines || current == nil {
				groups = append(groups, group{})
				current = &groups[len(groups)-1]
			}
			current.agents = append(current.agents, strings.ToLower(value))
			inAgentLines = true
		case "allow", "disallow":
			inAgentLines = false
			if current == nil || value == "" {
				continue
			}
			if key == "allow" {
				current.allow = append(current.allow, value)
			} else {
				current.disallow = append(current.disallow, value)
			}
		default:
			// crawl-delay, sitemap and unknown keys end the agent list without opening a group
			if key != "sitemap" {
				inAgentLines = false
			}
		}
	}
	return groups
}

// IsAllowed applies longest-match precedence: the longest disallow prefix of path wins
// unless an allow prefix of path is strictly longer. No matching disallow means allowed.
func IsAllowed(policy *models.RobotsPolicy, path string) bool {
	if policy == nil {
		return true
	}
	if path == "" {
		path = "/"
	}

	longestDisallow := -1
	for _, rule := range policy.Disallow {
		if rule != "" && strings.HasPrefix(path, rule) && len(rule) > longestDisallow {
			longestDisallow = len(rule)
		}
	}
	if longestDisallow < 0 {
		return true
	}
	for _, rule := range policy.Allow {
		if rule != "" && strings.HasPrefix(path, rule) && len(rule) > longestDisallow {
			return true
		}
	}
	return false
}

// PathOf returns the path (with query) that rules are matched against
func PathOf(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
