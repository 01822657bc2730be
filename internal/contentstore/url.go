package contentstore

import (
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a source URL for deduplication: the fragment is
// stripped, a trailing slash is removed, and the whole URL is lowercased.
// Invalid URLs are returned lowercased with best-effort trimming so that two
// identical malformed inputs still collide.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}

	u.Fragment = ""
	normalized := u.String()
	normalized = strings.TrimSuffix(normalized, "/")
	return strings.ToLower(normalized)
}
