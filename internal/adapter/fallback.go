package adapter

import (
	"context"

	"go.uber.org/zap"

	"blogwatch/internal/config"
	"blogwatch/internal/fetch"
	"blogwatch/internal/types"
)

// BrowserFallback serves bot-gated hosts. It parses like Generic but
// prefers the rendering capability for fetches, falling back to plain
// HTTP only when no browser is available.
type BrowserFallback struct {
	generic *Generic
	name    string
	url     string
	deps    Deps
}

// NewBrowserFallback builds the adapter for a bot-gated source.
func NewBrowserFallback(feed config.FeedConfig, deps Deps) *BrowserFallback {
	return &BrowserFallback{
		generic: NewGeneric(feed, deps),
		name:    feed.Name,
		url:     feed.URL,
		deps:    deps,
	}
}

func (b *BrowserFallback) Source() string { return b.name }

func (b *BrowserFallback) Fetch(ctx context.Context) ([]byte, error) {
	if b.deps.Renderer != nil {
		html, status, _, err := b.deps.Renderer.Render(ctx, b.url)
		if err == nil && status < 400 {
			return html, nil
		}
		b.deps.Log.Warn("browser fetch failed, falling back to http",
			zap.String("source", b.name), zap.Int("status", status), zap.Error(err))
	}
	return b.deps.Client.Get(ctx, b.url, fetch.Options{
		BotGated:    true,
		InsecureTLS: b.deps.InsecureTLS,
	})
}

func (b *BrowserFallback) Parse(ctx context.Context, raw []byte) ([]types.CandidatePost, error) {
	return b.generic.Parse(ctx, raw)
}
