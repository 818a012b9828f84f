package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const articlePage = `<!DOCTYPE html>
<html><head>
<title>How we scaled to 1M QPS</title>
<meta property="og:image" content="https://x.test/img/hero.png">
<meta property="article:published_time" content="2026-03-01T10:00:00Z">
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"BlogPosting",
 "headline":"How we scaled to 1M QPS",
 "author":{"@type":"Person","name":"Ada Lovelace"},
 "datePublished":"2026-03-01T09:00:00Z",
 "image":"https://x.test/img/schema.png"}
</script>
<meta name="author" content="Someone Else">
</head><body>
<nav><a href="/">Home</a><a href="/blog">Blog</a></nav>
<article>
<h1>How we scaled to 1M QPS</h1>
<p>We rebuilt the ingestion tier around a partitioned log. Every write lands in a
per-tenant partition and replicas tail the log with bounded lag. This paragraph,
like the ones after it, exists to give the readability heuristic enough body
text to identify the main content subtree without guessing.</p>
<p>The second step was admission control. We shed load at the edge with a token
bucket per tenant, sized from historical p99 demand, which kept tail latency
flat during regional failovers and made capacity planning boring again.</p>
<p>Finally we moved fan-out to a worker pool with explicit backpressure. The
queue depth became our primary health signal and the pager went quiet.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestExtractArticle(t *testing.T) {
	ex := New(zap.NewNop())
	content, err := ex.Extract([]byte(articlePage), "https://x.test/blog/scaling")
	require.NoError(t, err)

	assert.Contains(t, content.Text, "partitioned log")
	assert.Contains(t, content.Text, "admission control")
	assert.NotContains(t, content.Text, "Copyright")
	assert.Equal(t, len(strings.Fields(content.Text)), content.WordCount)

	// JSON-LD wins over the meta author and the OG timestamp.
	assert.Equal(t, "Ada Lovelace", content.Author)
	require.NotNil(t, content.PublishedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), content.PublishedAt.UTC())

	// og:image outranks the Schema.org image.
	assert.Equal(t, "https://x.test/img/hero.png", content.HeroImageURL)
}

func TestExtractEmptyBody(t *testing.T) {
	ex := New(zap.NewNop())
	_, err := ex.Extract([]byte(`<html><body></body></html>`), "https://x.test/empty")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestExtractFallbackAuthorFromMeta(t *testing.T) {
	html := `<html><head><meta name="author" content="Grace Hopper"></head>
<body><article><p>` + strings.Repeat("Sufficient body text for extraction. ", 40) + `</p></article></body></html>`
	ex := New(zap.NewNop())
	content, err := ex.Extract([]byte(html), "https://x.test/post")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", content.Author)
}

func TestNormalizeText(t *testing.T) {
	in := "First  line\t here\n\n\n\nSecond   line\r\n\r\n\r\nThird"
	assert.Equal(t, "First line here\n\nSecond line\n\nThird", normalizeText(in))
}

func TestHeroImageLargestInArticle(t *testing.T) {
	html := `<html><body><article>
<img src="/img/icon.png" width="32" height="32">
<img src="/img/lead.png" width="1200" height="630">
<img src="/img/nosize.png">
<p>` + strings.Repeat("Body text for the content heuristic. ", 40) + `</p>
</article></body></html>`
	ex := New(zap.NewNop())
	content, err := ex.Extract([]byte(html), "https://x.test/post")
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/img/lead.png", content.HeroImageURL)
}

func TestJSONLDGraphAndAuthorArray(t *testing.T) {
	raw := `{"@context":"https://schema.org","@graph":[
	  {"@type":"WebSite","name":"x"},
	  {"@type":"Article","author":[{"@type":"Person","name":"First Author"}],
	   "datePublished":"2026-05-05"}]}`
	ld, ok := parseJSONLD(raw)
	require.True(t, ok)
	assert.Equal(t, "First Author", ld.author)
	require.NotNil(t, ld.publishedAt)
	assert.Equal(t, 2026, ld.publishedAt.Year())
}

func TestPoolExtract(t *testing.T) {
	p := NewPool(2, New(zap.NewNop()))
	defer p.Close()

	content, err := p.Extract(context.Background(), []byte(articlePage), "https://x.test/blog/scaling")
	require.NoError(t, err)
	assert.Positive(t, content.WordCount)
}

func TestPoolExtractCancelled(t *testing.T) {
	// No workers: submission must block until the context fires.
	p := &Pool{ex: New(zap.NewNop()), tasks: make(chan task)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Extract(ctx, []byte(articlePage), "https://x.test/a")
	assert.ErrorIs(t, err, context.Canceled)
}
