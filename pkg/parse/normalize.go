package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"aeo-audit/pkg/utils"
)

// NormalizeURL produces the canonical form stored for an audit page:
// lowercase scheme and host, no default port, no fragment, no query string,
// and no trailing slash except for the root path.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	if host, port, err := net.SplitHostPort(normalized.Host); err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else {
		for len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
			normalized.Path = normalized.Path[:len(normalized.Path)-1]
		}
	}
	normalized.RawPath = ""
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.RawQuery = ""
	normalized.ForceQuery = false
	normalized.User = nil

	return normalized.String()
}

// ParseAndNormalize parses an absolute http(s) URL and normalizes it
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, urlStr, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("%w: URL %q: unsupported scheme", utils.ErrParsing, urlStr)
	}
	if parsed.Host == "" {
		return "", nil, fmt.Errorf("%w: URL %q: missing host", utils.ErrParsing, urlStr)
	}
	return NormalizeURL(parsed), parsed, nil
}

// ResolveAndNormalize resolves href against base and normalizes the result.
// Non-navigational hrefs (mailto:, javascript:, tel:, fragments only) yield ok=false.
func ResolveAndNormalize(base *url.URL, href string) (string, *url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", nil, false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"mailto:", "javascript:", "tel:", "data:", "ftp:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", nil, false
	}
	return NormalizeURL(abs), abs, true
}

// EnsureScheme prefixes bare hosts with https://
func EnsureScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

// Origin returns scheme://host for u
func Origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
