package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const breadcrumbListing = `
<html><body>
<article>
  <nav><a href="/blog/">Blog</a></nav>
  <h2><a href="/blog/scaling-to-1m-qps">How we scaled to 1M QPS</a></h2>
  <span class="author-name">Ada Lovelace</span>
  <time datetime="2026-03-01T10:00:00Z">March 1</time>
</article>
<article>
  <nav><a href="/blog/">Blog</a></nav>
  <h2><a href="/blog/postgres-at-scale">Running Postgres at planetary scale</a></h2>
</article>
<article>
  <nav><a href="/blog/">Blog</a></nav>
  <h2><a href="/blog/zero-downtime-migrations">Zero downtime schema migrations</a></h2>
</article>
</body></html>`

func TestExtractPostsPicksLongestLink(t *testing.T) {
	posts, err := ExtractPosts([]byte(breadcrumbListing), ExtractOptions{
		Source:  "example",
		BaseURL: "https://x.test/blog",
	})
	require.NoError(t, err)
	require.Len(t, posts, 3)

	assert.Equal(t, "How we scaled to 1M QPS", posts[0].Title)
	assert.Equal(t, "https://x.test/blog/scaling-to-1m-qps", posts[0].URL)
	assert.Equal(t, "Ada Lovelace", posts[0].Author)
	require.NotNil(t, posts[0].PublishedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), posts[0].PublishedAt.UTC())

	assert.Equal(t, "Running Postgres at planetary scale", posts[1].Title)
	assert.Equal(t, "Zero downtime schema migrations", posts[2].Title)
}

func TestExtractPostsTierTwoFallback(t *testing.T) {
	// No <article> elements; links sit under h2 in post-list cards.
	html := `
<html><body>
<div class="post-card">
  <h2><a href="/engineering/sharding-kafka">Sharding Kafka topics safely</a></h2>
</div>
<div class="entry">
  <h3><a href="/engineering/ebpf-profiling">Continuous profiling with eBPF</a></h3>
</div>
<div class="sidebar">
  <h2><a href="/engineering/unrelated">Ignored: no post container</a></h2>
</div>
</body></html>`
	posts, err := ExtractPosts([]byte(html), ExtractOptions{Source: "example", BaseURL: "https://x.test/"})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "Sharding Kafka topics safely", posts[0].Title)
	assert.Equal(t, "Continuous profiling with eBPF", posts[1].Title)
}

func TestExtractPostsTierThreeURLScan(t *testing.T) {
	html := `
<html><body>
<p>Read <a href="/2026/05/durable-queues">our take on durable queues</a> and
<a href="/pricing">pricing</a> and <a href="/2026/05/durable-queues?utm_source=x">the same post</a>.</p>
</body></html>`
	posts, err := ExtractPosts([]byte(html), ExtractOptions{Source: "example", BaseURL: "https://x.test/"})
	require.NoError(t, err)
	require.Len(t, posts, 1, "tracking-param duplicate and pricing link are dropped")
	assert.Equal(t, "https://x.test/2026/05/durable-queues", posts[0].URL)
}

func TestExtractPostsExcludedPaths(t *testing.T) {
	html := `
<html><body>
<article><h2><a href="/tags/golang">golang articles golang articles</a></h2></article>
<article><h2><a href="/categories/databases">database category listing</a></h2></article>
<article><h2><a href="#">jump to top of the page</a></h2></article>
<article><h2><a href="mailto:team@x.test">write to the whole team</a></h2></article>
</body></html>`
	posts, err := ExtractPosts([]byte(html), ExtractOptions{Source: "example", BaseURL: "https://x.test/"})
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestExtractPostsEmptyInput(t *testing.T) {
	posts, err := ExtractPosts(nil, ExtractOptions{Source: "example", BaseURL: "https://x.test/"})
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestExtractPostsRelativeURLResolution(t *testing.T) {
	html := `<article><h2><a href="great-expectations">Great expectations for the data layer</a></h2></article>`
	posts, err := ExtractPosts([]byte(html), ExtractOptions{Source: "example", BaseURL: "https://x.test/blog/"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "https://x.test/blog/great-expectations", posts[0].URL)
}

func TestArticleShapedPath(t *testing.T) {
	assert.True(t, articleShapedPath("https://x.test/blog/post-1"))
	assert.True(t, articleShapedPath("https://x.test/news/item"))
	assert.True(t, articleShapedPath("https://x.test/2026/07/something"))
	assert.False(t, articleShapedPath("https://x.test/contact"))
	assert.False(t, articleShapedPath("https://x.test/"))
}

func TestCollapseSpace(t *testing.T) {
	assert.Equal(t, "How we scaled", collapseSpace("  How\n  we \t scaled  "))
}
