package adapter

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"blogwatch/internal/types"
)

// Sites without feeds list their articles in wildly different markup.
// Three tiers are tried in order; the first tier producing validated
// entries wins.
//
//	Tier 1: <article> subtrees, longest-text link (skips breadcrumbs)
//	Tier 2: links under h2/h3 inside post-list containers
//	Tier 3: any anchor with an article-shaped path
var (
	yearMonthRe = regexp.MustCompile(`/\d{4}/\d{2}/`)

	articleSegments = []string{"/blog/", "/news/", "/post/", "/articles/", "/engineering/"}

	excludedSegments = []string{
		"/categories/", "/tags/", "/authors/", "/platform",
		"/solutions/", "/pricing", "/about",
	}

	postContainerRe = regexp.MustCompile(`(?i)post|entry|card|article`)
)

// ExtractOptions scope one HTML-as-feed pass.
type ExtractOptions struct {
	Source  string
	BaseURL string
	// Scope restricts extraction to a CSS selector subtree when set.
	Scope string
}

// ExtractPosts pulls candidate posts out of an HTML listing page. An
// empty result is not an error; callers decide whether that means
// ErrParseFormat.
func ExtractPosts(raw []byte, opts ExtractOptions) ([]types.CandidatePost, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	root := doc.Selection
	if opts.Scope != "" {
		if scoped := doc.Find(opts.Scope); scoped.Length() > 0 {
			root = scoped
		}
	}

	for _, tier := range []func(*goquery.Selection, *url.URL, string) []types.CandidatePost{
		tierArticleElements,
		tierHeadingContainers,
		tierURLPattern,
	} {
		if posts := tier(root, base, opts.Source); len(posts) > 0 {
			return posts, nil
		}
	}
	return nil, nil
}

// tierArticleElements picks, per <article>, the link with the longest
// visible text. Breadcrumb links ("Blog", "Home") lose to headlines.
func tierArticleElements(root *goquery.Selection, base *url.URL, source string) []types.CandidatePost {
	var posts []types.CandidatePost
	seen := make(map[string]bool)

	root.Find("article").Each(func(_ int, article *goquery.Selection) {
		var best *goquery.Selection
		bestLen := 0
		article.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			text := collapseSpace(a.Text())
			if len(text) > bestLen {
				best, bestLen = a, len(text)
			}
		})
		if best == nil {
			return
		}
		post, ok := buildPost(best, article, base, source)
		if !ok || !articleShapedPath(post.URL) {
			return
		}
		if key := dedupeKey(post); !seen[key] {
			seen[key] = true
			posts = append(posts, post)
		}
	})
	return posts
}

// tierHeadingContainers finds links nested under h2/h3 inside elements
// whose class or id looks like a post list.
func tierHeadingContainers(root *goquery.Selection, base *url.URL, source string) []types.CandidatePost {
	var posts []types.CandidatePost
	seen := make(map[string]bool)

	root.Find("h2 a[href], h3 a[href]").Each(func(_ int, a *goquery.Selection) {
		container := closestPostContainer(a)
		if container == nil {
			return
		}
		post, ok := buildPost(a, container, base, source)
		if !ok {
			return
		}
		if key := dedupeKey(post); !seen[key] {
			seen[key] = true
			posts = append(posts, post)
		}
	})
	return posts
}

// tierURLPattern scans every anchor with an article-shaped path.
func tierURLPattern(root *goquery.Selection, base *url.URL, source string) []types.CandidatePost {
	var posts []types.CandidatePost
	seen := make(map[string]bool)

	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		post, ok := buildPost(a, a.Parent(), base, source)
		if !ok || !articleShapedPath(post.URL) {
			return
		}
		if key := dedupeKey(post); !seen[key] {
			seen[key] = true
			posts = append(posts, post)
		}
	})
	return posts
}

// buildPost assembles a candidate from an anchor and its surrounding
// container, which supplies best-effort byline and timestamp.
func buildPost(a, container *goquery.Selection, base *url.URL, source string) (types.CandidatePost, bool) {
	href, _ := a.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" || href == "#" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(strings.ToLower(href), "mailto:") ||
		strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return types.CandidatePost{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return types.CandidatePost{}, false
	}
	abs := base.ResolveReference(ref)
	if excludedPath(abs.Path) {
		return types.CandidatePost{}, false
	}

	title := collapseSpace(a.Text())
	if title == "" {
		return types.CandidatePost{}, false
	}

	post := types.CandidatePost{
		SourceName: source,
		URL:        abs.String(),
		Title:      title,
	}
	if container != nil {
		post.Author = extractByline(container)
		post.PublishedAt = extractTimestamp(container)
	}
	return post, true
}

func extractByline(container *goquery.Selection) string {
	sel := container.Find(`[rel="author"], [itemprop="author"], [class*="author"]`).First()
	return collapseSpace(sel.Text())
}

func extractTimestamp(container *goquery.Selection) *time.Time {
	dt, ok := container.Find("time[datetime]").First().Attr("datetime")
	if !ok {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(dt)); err == nil {
			return &t
		}
	}
	return nil
}

func closestPostContainer(a *goquery.Selection) *goquery.Selection {
	for p := a.Parent(); p.Length() > 0; p = p.Parent() {
		class, _ := p.Attr("class")
		id, _ := p.Attr("id")
		if postContainerRe.MatchString(class) || postContainerRe.MatchString(id) {
			return p
		}
		if goquery.NodeName(p) == "body" || goquery.NodeName(p) == "html" {
			break
		}
	}
	return nil
}

func articleShapedPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	for _, seg := range articleSegments {
		if strings.Contains(path, seg) {
			return true
		}
	}
	return yearMonthRe.MatchString(path)
}

func excludedPath(path string) bool {
	p := strings.ToLower(path)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	for _, seg := range excludedSegments {
		if strings.Contains(p, seg) {
			return true
		}
	}
	return false
}

func dedupeKey(p types.CandidatePost) string {
	canon, err := types.CanonicalURL(p.URL)
	if err != nil {
		return p.URL
	}
	return canon
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
