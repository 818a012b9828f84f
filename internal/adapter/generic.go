package adapter

import (
	"context"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"blogwatch/internal/config"
	"blogwatch/internal/fetch"
	"blogwatch/internal/types"
)

// Generic handles well-formed feed documents and auto-detects HTML: a
// strict RSS/Atom/JSON Feed parse first, HTML-as-feed over the same bytes
// when the parse fails or yields nothing.
type Generic struct {
	name string
	url  string
	deps Deps
}

// NewGeneric builds the default adapter for a feed.
func NewGeneric(feed config.FeedConfig, deps Deps) *Generic {
	return &Generic{name: feed.Name, url: feed.URL, deps: deps}
}

func (g *Generic) Source() string { return g.name }

func (g *Generic) Fetch(ctx context.Context) ([]byte, error) {
	return g.deps.Client.Get(ctx, g.url, fetch.Options{
		BotGated:    BotGated(g.url),
		InsecureTLS: g.deps.InsecureTLS,
	})
}

func (g *Generic) Parse(ctx context.Context, raw []byte) ([]types.CandidatePost, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	feed, err := gofeed.NewParser().ParseString(string(raw))
	if err == nil && len(feed.Items) > 0 {
		return g.mapItems(feed), nil
	}
	if err != nil {
		g.deps.Log.Debug("feed parse failed, trying html extraction",
			zap.String("source", g.name), zap.Error(err))
	}

	posts, herr := ExtractPosts(raw, ExtractOptions{Source: g.name, BaseURL: g.url})
	if herr != nil {
		return nil, herr
	}
	if len(posts) == 0 && err != nil {
		return nil, ErrParseFormat
	}
	return posts, nil
}

func (g *Generic) mapItems(feed *gofeed.Feed) []types.CandidatePost {
	posts := make([]types.CandidatePost, 0, len(feed.Items))
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		if title == "" || link == "" {
			continue
		}
		posts = append(posts, types.CandidatePost{
			SourceName:  g.name,
			URL:         link,
			Title:       title,
			PublishedAt: item.PublishedParsed,
			Author:      itemAuthor(item),
			Summary:     strings.TrimSpace(item.Description),
			Tags:        item.Categories,
		})
	}
	return posts
}

// itemAuthor tolerates the feed ecosystem's many author spellings:
// <author>, <dc:creator>, Atom author structures, JSON Feed authors.
func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if ext, ok := item.Extensions["dc"]["creator"]; ok && len(ext) > 0 {
		return strings.TrimSpace(ext[0].Value)
	}
	return ""
}
