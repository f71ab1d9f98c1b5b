package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var linkPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>()]+`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid", "si"}

func ExtractURLs(content string) []string {
	found := linkPattern.FindAllString(content, -1)
	for i, link := range found {
		found[i] = strings.TrimRight(link, ".,;:!?'\"")
	}
	return found
}

// NormalizedLinks extracts, normalizes and deduplicates the links of a
// message, keeping their order of appearance.
func NormalizedLinks(content string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, raw := range ExtractURLs(content) {
		normalized, _, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// NormalizeURL lowercases and punycodes the host and drops fragments,
// credentials and tracking parameters. It returns the url and its host.
func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "http://") && !strings.HasPrefix(strings.ToLower(raw), "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	host := strings.ToLower(parsed.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	if port := parsed.Port(); port != "" {
		parsed.Host = host + ":" + port
	} else {
		parsed.Host = host
	}
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = sortedQuery(query)

	return parsed.String(), host, nil
}

func sortedQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}

type FilterMode string

const (
	// Inclusion only lets listed domains through.
	Inclusion FilterMode = "inclusion"
	// Exclusion lets everything through except listed domains.
	Exclusion FilterMode = "exclusion"
)

// LinkFilter decides whether links are acceptable. Listed domains also
// cover their subdomains.
type LinkFilter struct {
	Mode    FilterMode
	Domains []string
}

func (f LinkFilter) Allowed(link string) bool {
	_, host, err := NormalizeURL(link)
	if err != nil {
		return f.Mode == Exclusion
	}
	listed := f.listed(host)
	if f.Mode == Inclusion {
		return listed
	}
	return !listed
}

// Rejected returns the links in content the filter does not allow.
func (f LinkFilter) Rejected(content string) []string {
	var out []string
	for _, link := range NormalizedLinks(content) {
		if !f.Allowed(link) {
			out = append(out, link)
		}
	}
	return out
}

func (f LinkFilter) listed(host string) bool {
	for _, domain := range f.Domains {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
		if domain == "" {
			continue
		}
		if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
			domain = ascii
		}
		trimmed := strings.TrimPrefix(host, "www.")
		if trimmed == domain || strings.HasSuffix(trimmed, "."+domain) {
			return true
		}
	}
	return false
}
