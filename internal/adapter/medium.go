package adapter

import (
	"context"
	"fmt"

	"blogwatch/internal/config"
	"blogwatch/internal/fetch"
	"blogwatch/internal/types"
)

// Medium handles Medium-hosted blogs. Logged-out article lists only exist
// in rendered HTML, so Fetch requires the browser capability.
type Medium struct {
	name string
	url  string
	deps Deps
}

// NewMedium builds the adapter for a Medium-family source.
func NewMedium(feed config.FeedConfig, deps Deps) *Medium {
	return &Medium{name: feed.Name, url: feed.URL, deps: deps}
}

func (m *Medium) Source() string { return m.name }

func (m *Medium) Fetch(ctx context.Context) ([]byte, error) {
	if m.deps.Renderer == nil {
		return nil, fmt.Errorf("source %s: %w", m.name, fetch.ErrBrowserRequired)
	}
	html, status, _, err := m.deps.Renderer.Render(ctx, m.url)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", m.url, err)
	}
	if status >= 400 {
		return nil, &fetch.FetchError{URL: m.url, Status: status, Attempts: 1, Err: fetch.ErrBotChallenged}
	}
	return html, nil
}

func (m *Medium) Parse(_ context.Context, raw []byte) ([]types.CandidatePost, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// Medium keeps its article list in main content; scoping skips the
	// recommendation rails.
	posts, err := ExtractPosts(raw, ExtractOptions{
		Source:  m.name,
		BaseURL: m.url,
		Scope:   "main, div[role='main']",
	})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		posts, err = ExtractPosts(raw, ExtractOptions{Source: m.name, BaseURL: m.url})
		if err != nil {
			return nil, err
		}
	}
	return posts, nil
}
