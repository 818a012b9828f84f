package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://X.Test/Blog/Post", "https://x.test/Blog/Post"},
		{"strips default https port", "https://x.test:443/a", "https://x.test/a"},
		{"strips default http port", "http://x.test:80/a", "http://x.test/a"},
		{"keeps non-default port", "https://x.test:8443/a", "https://x.test:8443/a"},
		{"strips trailing slash", "https://x.test/blog/post/", "https://x.test/blog/post"},
		{"keeps root slash", "https://x.test/", "https://x.test/"},
		{"strips fragment", "https://x.test/a#section-2", "https://x.test/a"},
		{"drops utm params", "https://x.test/b?utm_source=foo&utm_medium=rss", "https://x.test/b"},
		{"drops gclid and fbclid", "https://x.test/b?gclid=1&fbclid=2", "https://x.test/b"},
		{"keeps other params in order", "https://x.test/b?page=2&utm_source=foo&sort=new", "https://x.test/b?page=2&sort=new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalURLIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://X.Test:443/Blog/Post/?utm_source=a&page=1#top",
		"http://x.test:80/",
		"https://x.test/a/b/c?q=1",
	}
	for _, in := range inputs {
		once, err := CanonicalURL(in)
		require.NoError(t, err)
		twice, err := CanonicalURL(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "canonicalization must be idempotent for %q", in)
	}
}

func TestFingerprintStability(t *testing.T) {
	p := CandidatePost{SourceName: "example", URL: "https://x.test/b?utm_source=foo", Title: "Original title"}
	q := CandidatePost{SourceName: "example", URL: "https://x.test/b", Title: "Edited title", Tags: []string{"go"}}

	assert.Equal(t, p.Fingerprint(), q.Fingerprint(),
		"same canonical URL and source must fingerprint identically regardless of title or tags")
	assert.Len(t, p.Fingerprint(), 64)
}

func TestFingerprintVariesBySource(t *testing.T) {
	a := Fingerprint("alpha", "https://x.test/a")
	b := Fingerprint("beta", "https://x.test/a")
	assert.NotEqual(t, a, b)
}

func TestFingerprintUnparsableURL(t *testing.T) {
	// Falls back to hashing the raw string so a broken URL is still stable.
	a := Fingerprint("example", "http://[::1]:bad")
	b := Fingerprint("example", "http://[::1]:bad")
	assert.Equal(t, a, b)
}
