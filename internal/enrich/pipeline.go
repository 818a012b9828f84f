// Package enrich runs the per-post pipeline: dedupe by fingerprint, fetch
// the full article, extract, optionally summarize, embed, persist. The
// fingerprint mark is written only after a successful upsert, giving
// at-most-once semantics per post.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"blogwatch/internal/cache"
	"blogwatch/internal/embedding"
	"blogwatch/internal/extract"
	"blogwatch/internal/fetch"
	"blogwatch/internal/summarize"
	"blogwatch/internal/types"
	"blogwatch/internal/vecstore"
)

// embedInputBudget caps the characters handed to the embedding model.
const embedInputBudget = 20000

// Status reports what Process did with a candidate.
type Status int

const (
	// StatusIngested means the post was embedded and persisted.
	StatusIngested Status = iota
	// StatusDuplicate means the fingerprint was already marked.
	StatusDuplicate
	// StatusFailed means the post was skipped after an error; the
	// fingerprint is NOT marked, so the next tick retries.
	StatusFailed
)

// Fetcher is the resilient HTTP capability the pipeline pulls article
// bodies through. *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, opts fetch.Options) ([]byte, error)
}

// Extractor is the content-extraction capability. *extract.Pool
// satisfies it.
type Extractor interface {
	Extract(ctx context.Context, html []byte, pageURL string) (types.ArticleContent, error)
}

// VectorStore is the slice of the vector store the pipeline needs.
type VectorStore interface {
	Upsert(ctx context.Context, rec vecstore.Record) error
}

// Pipeline enriches candidates. All fields except Summarizer are
// required.
type Pipeline struct {
	Store      cache.Store
	Vectors    VectorStore
	Fetcher    Fetcher
	Extractor  Extractor
	Embedder   embedding.Engine
	Summarizer summarize.Summarizer // nil disables summarization
	Log        *zap.Logger

	// Dimension is the collection's stored vector length D'.
	Dimension int

	// ContentTTL bounds the article-HTML cache entries.
	ContentTTL time.Duration

	// FullContentCapture gates the article fetch; when false the feed
	// summary alone feeds extraction and embedding.
	FullContentCapture bool
}

// Process runs steps 1-7 for one candidate. Per-post failures are
// isolated: the returned error is for the caller's failure counter, never
// a reason to abort the source.
func (p *Pipeline) Process(ctx context.Context, post types.CandidatePost) (Status, error) {
	fp := post.Fingerprint()
	log := p.Log.With(
		zap.String("source", post.SourceName),
		zap.String("url", post.URL),
		zap.String("fingerprint", fp))

	marked, err := p.Store.Has(ctx, cache.KeyPrefixFingerprint+fp)
	if err != nil {
		return StatusFailed, fmt.Errorf("dedupe check: %w", err)
	}
	if marked {
		return StatusDuplicate, nil
	}

	content, degraded := p.articleContent(ctx, post, log)

	summary := post.Summary
	if p.Summarizer != nil && content.Text != "" {
		if s, err := p.Summarizer.Summarize(ctx, post.Title, content.Text); err != nil {
			log.Warn("summarization failed, keeping feed summary", zap.Error(err))
		} else if s != "" {
			summary = s
		}
	}

	vector, err := p.embed(ctx, post.Title, summary, content.Text)
	if err != nil {
		return StatusFailed, err
	}

	rec := buildRecord(fp, post, content, summary, vector, degraded)
	if err := p.Vectors.Upsert(ctx, rec); err != nil {
		return StatusFailed, fmt.Errorf("upsert: %w", err)
	}

	// Marking after the upsert means a crash between the two costs one
	// redundant retry next tick, which the upsert tolerates.
	if err := p.Store.Set(ctx, cache.KeyPrefixFingerprint+fp, []byte("1"), 0); err != nil {
		return StatusFailed, fmt.Errorf("mark fingerprint: %w", err)
	}

	log.Info("post ingested", zap.Int("word_count", content.WordCount), zap.Bool("degraded", degraded))
	return StatusIngested, nil
}

// articleContent fetches and extracts the full article, caching the HTML
// by canonical URL. Any failure degrades to the feed summary.
func (p *Pipeline) articleContent(ctx context.Context, post types.CandidatePost, log *zap.Logger) (types.ArticleContent, bool) {
	degradedContent := func() types.ArticleContent {
		text := post.Summary
		return types.ArticleContent{
			Text:        text,
			Author:      post.Author,
			PublishedAt: post.PublishedAt,
			WordCount:   wordCount(text),
		}
	}

	if !p.FullContentCapture {
		return degradedContent(), true
	}

	canon, err := types.CanonicalURL(post.URL)
	if err != nil {
		canon = post.URL
	}
	cacheKey := cache.KeyPrefixArticle + canon

	html, err := p.Store.Get(ctx, cacheKey)
	if errors.Is(err, cache.ErrNotFound) {
		html, err = p.Fetcher.Get(ctx, post.URL, fetch.Options{BotGated: false})
		if err != nil {
			log.Warn("article fetch failed, degrading to feed summary", zap.Error(err))
			return degradedContent(), true
		}
		if serr := p.Store.Set(ctx, cacheKey, html, p.ContentTTL); serr != nil {
			log.Warn("article cache write failed", zap.Error(serr))
		}
	} else if err != nil {
		log.Warn("article cache read failed, degrading to feed summary", zap.Error(err))
		return degradedContent(), true
	}

	content, err := p.Extractor.Extract(ctx, html, post.URL)
	if errors.Is(err, extract.ErrEmpty) {
		log.Warn("extraction yielded no text, degrading to feed summary")
		return degradedContent(), true
	}
	if err != nil {
		log.Warn("extraction failed, degrading to feed summary", zap.Error(err))
		return degradedContent(), true
	}

	if content.Author == "" {
		content.Author = post.Author
	}
	if content.PublishedAt == nil {
		content.PublishedAt = post.PublishedAt
	}
	return content, false
}

// embed builds the canonical embedding input and retries a failed embed
// once before giving up.
func (p *Pipeline) embed(ctx context.Context, title, summary, text string) ([]float32, error) {
	input := trimToByteBudget(title+"\n\n"+summary+"\n\n"+text, embedInputBudget)

	vec, err := p.Embedder.Embed(ctx, input)
	if err != nil {
		p.Log.Warn("embedding failed, retrying once", zap.Error(err))
		vec, err = p.Embedder.Embed(ctx, input)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrEmbeddingFailed, err)
	}
	return embedding.Truncate(vec, p.Dimension)
}

func buildRecord(fp string, post types.CandidatePost, content types.ArticleContent, summary string, vector []float32, degraded bool) vecstore.Record {
	meta := map[string]any{
		"word_count": content.WordCount,
		"degraded":   degraded,
	}
	if content.HeroImageURL != "" {
		meta["hero_image_url"] = content.HeroImageURL
	}
	if len(post.Tags) > 0 {
		meta["tags"] = post.Tags
	}

	return vecstore.Record{
		ID:          fp,
		URL:         post.URL,
		Title:       post.Title,
		Source:      post.SourceName,
		Author:      content.Author,
		PublishedAt: content.PublishedAt,
		Summary:     summary,
		Vector:      vector,
		Metadata:    meta,
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// trimToByteBudget cuts s to at most n bytes, backing up to a rune
// boundary so the result stays valid UTF-8.
func trimToByteBudget(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
