package models

import (
	"net/url"
	"strings"
)

// NormalizeSourceURL reduces a URL to lowercase scheme+host+path with the
// trailing slash stripped; query and fragment are ignored. The path is
// compared in its decoded form so that "bourse-%C3%A9tudes" and
// "bourse-études" share one key. The store persists this value in
// normalized_source_url and duplicate lookups compare against it.
func NormalizeSourceURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		s := rawURL
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return strings.ToLower(strings.TrimRight(s, "/"))
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return strings.ToLower(strings.TrimRight(scheme+"://"+u.Host+u.Path, "/"))
}
