package document

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	docPathRE = regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`)
	docIDRE   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ResolveID extracts the document id from a Google Docs page URL.
func ResolveID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrIDNotResolvable
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "", ErrIDNotResolvable
	}

	m := docPathRE.FindStringSubmatch(u.Path)
	if len(m) != 2 {
		return "", ErrIDNotResolvable
	}
	return m[1], nil
}

// NormalizeID trims an already-resolved id and rejects ids outside the provider charset.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 256 || !docIDRE.MatchString(id) {
		return "", ErrIDNotResolvable
	}
	return id, nil
}
