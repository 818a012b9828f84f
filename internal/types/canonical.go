package types

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL normalizes a URL so equivalent references hash identically:
// scheme and host are lowercased, default ports stripped, the fragment
// dropped, tracking query parameters (utm_*, gclid, fbclid) removed, and a
// trailing slash removed from any non-root path. The function is idempotent.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}

	u.RawQuery = stripTrackingParams(u.RawQuery)

	return u.String(), nil
}

// stripTrackingParams removes utm_*, gclid and fbclid parameters while
// preserving the order of everything else. url.Values would reorder keys,
// so the query is filtered in place.
func stripTrackingParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		key = strings.ToLower(key)
		if strings.HasPrefix(key, "utm_") || key == "gclid" || key == "fbclid" {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
