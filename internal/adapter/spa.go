package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"blogwatch/internal/config"
	"blogwatch/internal/fetch"
	"blogwatch/internal/types"
)

// spaArticlePathRe matches the /YYYY/MM/slug URL shape Next.js-hosted
// engineering blogs use for articles.
var spaArticlePathRe = regexp.MustCompile(`^/\d{4}/\d{2}/[a-z0-9-]+/?$`)

// SPA handles client-rendered sites whose initial HTML carries no
// content. Fetch renders the page; Parse scans anchors matching the
// article URL template.
type SPA struct {
	name string
	url  string
	deps Deps
}

// NewSPA builds the adapter for a single-page-application source.
func NewSPA(feed config.FeedConfig, deps Deps) *SPA {
	return &SPA{name: feed.Name, url: feed.URL, deps: deps}
}

func (s *SPA) Source() string { return s.name }

func (s *SPA) Fetch(ctx context.Context) ([]byte, error) {
	if s.deps.Renderer == nil {
		return nil, fmt.Errorf("source %s: %w", s.name, fetch.ErrBrowserRequired)
	}
	html, status, _, err := s.deps.Renderer.Render(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", s.url, err)
	}
	if status >= 400 {
		return nil, &fetch.FetchError{URL: s.url, Status: status, Attempts: 1, Err: fetch.ErrBotChallenged}
	}
	return html, nil
}

func (s *SPA) Parse(_ context.Context, raw []byte) ([]types.CandidatePost, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}
	base, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var posts []types.CandidatePost
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Hostname() != base.Hostname() || !spaArticlePathRe.MatchString(abs.Path) {
			return
		}
		title := collapseSpace(a.Text())
		if title == "" {
			return
		}
		post := types.CandidatePost{SourceName: s.name, URL: abs.String(), Title: title}
		if key := dedupeKey(post); !seen[key] {
			seen[key] = true
			posts = append(posts, post)
		}
	})
	return posts, nil
}
