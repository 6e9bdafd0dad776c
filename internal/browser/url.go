package browser

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL turns a possibly relative href scraped from a page into an
// absolute URL against base. The fragment is dropped.
func ResolveURL(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty link")
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", href, err)
	}
	abs := b.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String(), nil
}
