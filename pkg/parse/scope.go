package parse

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	// locale prefix at the start of a path: /xx or /xx-yy
	localePrefixRe = regexp.MustCompile(`(?i)^/([a-z]{2})(?:[-_]([a-z]{2}))?(?:/|$)`)
	// region-qualified locale segment, the form rejected when it differs from the root's
	regionLocaleRe = regexp.MustCompile(`(?i)^/[a-z]{2}[-_][a-z]{2}(?:/|$)`)
)

var localeQueryParams = []string{"lang", "locale", "country", "region"}

var priorityKeywords = []string{"faq", "help", "support", "contact", "about"}

// RootHost lowercases host, drops the port and a leading "www."
func RootHost(host string) string {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// LocalePrefix returns the lowercase locale prefix (e.g. "/en-us") that starts path, or "".
// Only the first segment is considered; "_" and "-" separators are equivalent.
func LocalePrefix(path string) string {
	prefix, _, _ := splitLocale(path)
	return prefix
}

// splitLocale returns the canonical locale prefix, the first segment as written and the rest
// of path after it.
func splitLocale(path string) (prefix, segment, rest string) {
	m := localePrefixRe.FindStringSubmatch(path)
	if m == nil {
		return "", "", path
	}
	prefix = "/" + strings.ToLower(m[1])
	if m[2] != "" {
		prefix += "-" + strings.ToLower(m[2])
	}
	segment = strings.TrimSuffix(m[0], "/")
	return prefix, segment, path[len(segment):]
}

// Scope describes the site an audit may crawl. LocalePrefix is canonical; LocaleSegment keeps
// the root's spelling (e.g. "/en_US") for building URLs on the site.
type Scope struct {
	RootHost      string
	LocalePrefix  string
	LocaleSegment string
}

// NewScope derives the crawl scope from the audit's resolved root URL
func NewScope(root *url.URL) Scope {
	prefix, segment, _ := splitLocale(root.Path)
	return Scope{RootHost: RootHost(root.Host), LocalePrefix: prefix, LocaleSegment: segment}
}

// ShouldCrawlURL is the same-site and crawl-policy predicate shared by discovery and organic link harvesting.
func ShouldCrawlURL(candidate string, scope Scope) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return scope.Allows(u)
}

// Allows applies the predicate to a parsed URL
func (s Scope) Allows(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if RootHost(u.Host) != s.RootHost {
		return false
	}

	path := strings.ToLower(u.EscapedPath())
	if path == "" {
		path = "/"
	}

	rest := path
	if s.LocalePrefix != "" {
		prefix, _, after := splitLocale(path)
		if prefix != s.LocalePrefix {
			return false
		}
		rest = after
	} else if regionLocaleRe.MatchString(path) {
		return false
	}

	query := u.Query()
	for _, param := range localeQueryParams {
		if query.Has(param) {
			return false
		}
	}

	if rest == "" || rest == "/" {
		return true
	}
	if IsPriorityPath(rest) {
		return true
	}
	return PathDepth(rest) <= 2
}

// IsPriorityPath reports FAQ/help-like paths
func IsPriorityPath(path string) bool {
	lower := strings.ToLower(path)
	for _, kw := range priorityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// PathDepth counts non-empty path segments
func PathDepth(path string) int {
	n := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

// SortByPriority orders URLs FAQ/help-like first, then by depth, then length, then lexically.
func SortByPriority(urls []string) {
	type keyed struct {
		raw      string
		priority bool
		depth    int
	}
	items := make([]keyed, len(urls))
	for i, raw := range urls {
		path := raw
		if u, err := url.Parse(raw); err == nil {
			path = u.Path
		}
		items[i] = keyed{raw: raw, priority: IsPriorityPath(path), depth: PathDepth(path)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.priority != b.priority {
			return a.priority
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if len(a.raw) != len(b.raw) {
			return len(a.raw) < len(b.raw)
		}
		return a.raw < b.raw
	})
	for i := range items {
		urls[i] = items[i].raw
	}
}
