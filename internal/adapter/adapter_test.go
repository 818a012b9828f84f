package adapter

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blogwatch/internal/cache"
	"blogwatch/internal/config"
	"blogwatch/internal/fetch"
	"blogwatch/internal/types"
)

// mockRenderer implements Renderer with a pluggable function.
type mockRenderer struct {
	RenderFunc func(ctx context.Context, url string) ([]byte, int, http.Header, error)
}

func (m *mockRenderer) Render(ctx context.Context, url string) ([]byte, int, http.Header, error) {
	return m.RenderFunc(ctx, url)
}

// fakeAdapter drives DiscoverChanged tests.
type fakeAdapter struct {
	name    string
	raw     []byte
	posts   []types.CandidatePost
	parsed  int
	fetched int
}

func (f *fakeAdapter) Source() string { return f.name }
func (f *fakeAdapter) Fetch(context.Context) ([]byte, error) {
	f.fetched++
	return f.raw, nil
}
func (f *fakeAdapter) Parse(context.Context, []byte) ([]types.CandidatePost, error) {
	f.parsed++
	return f.posts, nil
}

func testDeps() Deps {
	return Deps{Client: fetch.NewClient(zap.NewNop()), Log: zap.NewNop()}
}

func TestFactorySelection(t *testing.T) {
	deps := testDeps()
	tests := []struct {
		name string
		feed config.FeedConfig
		want any
	}{
		{"spa host", config.FeedConfig{Name: "spotify", URL: "https://engineering.atspotify.com/"}, &SPA{}},
		{"medium host", config.FeedConfig{Name: "netflix", URL: "https://netflixtechblog.com/"}, &Medium{}},
		{"medium subdomain", config.FeedConfig{Name: "airbnb", URL: "https://airbnb.medium.com/"}, &Medium{}},
		{"bot gated host", config.FeedConfig{Name: "openai", URL: "https://openai.com/blog"}, &BrowserFallback{}},
		{"unknown host", config.FeedConfig{Name: "x", URL: "https://x.test/feed.xml"}, &Generic{}},
		{"hint overrides host", config.FeedConfig{Name: "x", URL: "https://x.test/", Hints: "spa"}, &SPA{}},
		{"browser hint", config.FeedConfig{Name: "x", URL: "https://x.test/", Hints: "browser"}, &BrowserFallback{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.feed, deps)
			require.NoError(t, err)
			assert.IsType(t, tt.want, a)
		})
	}
}

func TestFactoryRejectsUnknownHint(t *testing.T) {
	_, err := New(config.FeedConfig{Name: "x", URL: "https://x.test/", Hints: "graphql"}, testDeps())
	assert.Error(t, err)
}

const rssTwoItems = `<?xml version="1.0"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example Engineering</title>
  <item>
    <title>Post A</title>
    <link>https://x.test/a</link>
    <dc:creator>Grace Hopper</dc:creator>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
    <description>First post</description>
    <category>infra</category>
  </item>
  <item>
    <title>Post B</title>
    <link>https://x.test/b?utm_source=foo</link>
  </item>
</channel>
</rss>`

func TestGenericParsesRSS(t *testing.T) {
	g := NewGeneric(config.FeedConfig{Name: "example", URL: "https://x.test/feed.xml"}, testDeps())
	posts, err := g.Parse(context.Background(), []byte(rssTwoItems))
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, "Post A", posts[0].Title)
	assert.Equal(t, "Grace Hopper", posts[0].Author)
	assert.Equal(t, []string{"infra"}, posts[0].Tags)
	require.NotNil(t, posts[0].PublishedAt)

	// Tracking params do not change identity.
	assert.Equal(t,
		types.Fingerprint("example", "https://x.test/b"),
		posts[1].Fingerprint())
}

func TestGenericZeroBytes(t *testing.T) {
	g := NewGeneric(config.FeedConfig{Name: "example", URL: "https://x.test/feed.xml"}, testDeps())
	posts, err := g.Parse(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestGenericFallsBackToHTML(t *testing.T) {
	g := NewGeneric(config.FeedConfig{Name: "example", URL: "https://x.test/blog"}, testDeps())
	posts, err := g.Parse(context.Background(), []byte(breadcrumbListing))
	require.NoError(t, err)
	assert.Len(t, posts, 3)
}

func TestGenericUnparseableContent(t *testing.T) {
	g := NewGeneric(config.FeedConfig{Name: "example", URL: "https://x.test/blog"}, testDeps())
	_, err := g.Parse(context.Background(), []byte("<<<< not xml, not html worth scraping"))
	assert.ErrorIs(t, err, ErrParseFormat)
}

func TestMediumRequiresBrowser(t *testing.T) {
	m := NewMedium(config.FeedConfig{Name: "netflix", URL: "https://netflixtechblog.com/"}, testDeps())
	_, err := m.Fetch(context.Background())
	assert.ErrorIs(t, err, fetch.ErrBrowserRequired)
}

func TestSPARequiresBrowser(t *testing.T) {
	s := NewSPA(config.FeedConfig{Name: "spotify", URL: "https://engineering.atspotify.com/"}, testDeps())
	_, err := s.Fetch(context.Background())
	assert.ErrorIs(t, err, fetch.ErrBrowserRequired)
}

func TestSPAParseAnchorPattern(t *testing.T) {
	html := `
<html><body>
<a href="/2026/04/realtime-ml-features">Serving real-time ML features</a>
<a href="/2026/04/realtime-ml-features/">Serving real-time ML features (dup)</a>
<a href="/about">About us</a>
<a href="https://other.test/2026/04/offsite">Offsite post</a>
<a href="/2026/4/bad-month">Bad month format</a>
</body></html>`
	deps := testDeps()
	deps.Renderer = &mockRenderer{RenderFunc: func(ctx context.Context, url string) ([]byte, int, http.Header, error) {
		return []byte(html), 200, nil, nil
	}}
	s := NewSPA(config.FeedConfig{Name: "spotify", URL: "https://engineering.atspotify.com/"}, deps)

	posts, err := Discover(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, posts, 1, "same canonical URL dedupes, offsite and malformed paths drop")
	assert.Equal(t, "https://engineering.atspotify.com/2026/04/realtime-ml-features", posts[0].URL)
}

func TestBrowserFallbackPrefersRenderer(t *testing.T) {
	var rendered bool
	deps := testDeps()
	deps.Renderer = &mockRenderer{RenderFunc: func(ctx context.Context, url string) ([]byte, int, http.Header, error) {
		rendered = true
		return []byte(breadcrumbListing), 200, nil, nil
	}}
	b := NewBrowserFallback(config.FeedConfig{Name: "gated", URL: "https://x.test/blog"}, deps)

	posts, err := Discover(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.Len(t, posts, 3)
}

func TestDiscoverChangedShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	fa := &fakeAdapter{
		name:  "example",
		raw:   []byte(rssTwoItems),
		posts: []types.CandidatePost{{SourceName: "example", URL: "https://x.test/a", Title: "A"}},
	}

	posts, hash, err := DiscoverChanged(ctx, fa, store)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.NotEmpty(t, hash)
	assert.Equal(t, 1, fa.parsed)

	// Until the hash is committed, identical bytes re-parse: failed
	// candidates must stay discoverable.
	_, _, err = DiscoverChanged(ctx, fa, store)
	require.NoError(t, err)
	assert.Equal(t, 2, fa.parsed)

	// A committed hash short-circuits identical bytes.
	require.NoError(t, MarkFeedSeen(ctx, store, "example", hash, time.Hour))
	_, _, err = DiscoverChanged(ctx, fa, store)
	assert.ErrorIs(t, err, ErrFeedUnchanged)
	assert.Equal(t, 2, fa.parsed)

	// Changed bytes parse again.
	fa.raw = []byte(rssTwoItems + "<!-- new -->")
	posts, _, err = DiscoverChanged(ctx, fa, store)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Equal(t, 3, fa.parsed)
}
