// Package extract turns fetched article HTML into clean text, metadata
// and a hero image. Extraction is CPU-bound, so callers run it through
// Pool to keep it off the I/O path.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"blogwatch/internal/types"
)

// ErrEmpty marks a page whose readable body came out blank. Callers
// degrade to the feed summary instead of failing the post.
var ErrEmpty = errors.New("extract: no article text")

// Extractor performs single-page content extraction.
type Extractor struct {
	log *zap.Logger
}

// New returns an Extractor.
func New(log *zap.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract parses html fetched from pageURL into ArticleContent. An empty
// readable body returns the partially-filled content alongside ErrEmpty.
func (e *Extractor) Extract(html []byte, pageURL string) (types.ArticleContent, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return types.ArticleContent{}, fmt.Errorf("extract: parse url %q: %w", pageURL, err)
	}

	meta := parseMetadata(html)

	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err != nil {
		e.log.Debug("readability failed", zap.String("url", pageURL), zap.Error(err))
	}

	text := normalizeText(article.TextContent)
	content := types.ArticleContent{
		Text:         text,
		HTML:         article.Content,
		Author:       meta.author,
		PublishedAt:  meta.publishedAt,
		WordCount:    len(strings.Fields(text)),
		HeroImageURL: heroImage(meta, article.Image, html, u),
	}
	if content.Author == "" {
		content.Author = strings.TrimSpace(article.Byline)
	}
	if content.PublishedAt == nil && article.PublishedTime != nil {
		content.PublishedAt = article.PublishedTime
	}

	if content.Text == "" {
		return content, ErrEmpty
	}
	return content, nil
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// normalizeText trims line edges and collapses blank-line runs to one.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(collapseSpaces(line))
	}
	out := strings.Join(lines, "\n")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

var spacesRe = regexp.MustCompile(`[ \t]+`)

func collapseSpaces(s string) string {
	return spacesRe.ReplaceAllString(s, " ")
}
