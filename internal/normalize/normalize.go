// Package normalize holds the pure domain-cleanup helpers that are the
// single source of truth for brand-domain matching across the scorer and
// the cross-model analyzer.
package normalize

import "strings"

// Domain canonicalizes a raw domain or URL: lowercase, scheme and a single
// leading "www." stripped, trailing slash removed, truncated at the first
// path segment. Empty input stays empty.
func Domain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, "/")
	if idx := strings.Index(d, "/"); idx >= 0 {
		d = d[:idx]
	}
	return d
}

// IsBrandDomain reports whether domain belongs to the brand: an exact
// match against any brand domain, or a subdomain of one. A suffix match
// without the dot boundary (example.com.evil.com) does not count.
func IsBrandDomain(domain string, brandDomains []string) bool {
	d := Domain(domain)
	if d == "" || len(brandDomains) == 0 {
		return false
	}
	for _, b := range brandDomains {
		nb := Domain(b)
		if nb == "" {
			continue
		}
		if d == nb || strings.HasSuffix(d, "."+nb) {
			return true
		}
	}
	return false
}
