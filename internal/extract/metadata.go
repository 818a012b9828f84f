package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"net/url"
)

// metadata is the byline/timestamp/image information scraped from a page
// before readability runs. Precedence: JSON-LD Article blocks win, then
// OpenGraph and Twitter meta, then plain meta/time elements.
type metadata struct {
	author      string
	publishedAt *time.Time
	ogImage     string
	schemaImage string
}

func parseMetadata(html []byte) metadata {
	var m metadata
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return m
	}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if ld, ok := parseJSONLD(s.Text()); ok {
			if m.author == "" {
				m.author = ld.author
			}
			if m.publishedAt == nil {
				m.publishedAt = ld.publishedAt
			}
			if m.schemaImage == "" {
				m.schemaImage = ld.image
			}
		}
		return m.author == "" || m.publishedAt == nil || m.schemaImage == ""
	})

	m.ogImage = firstAttr(doc,
		`meta[property="og:image"]`, "content",
		`meta[name="twitter:image"]`, "content")

	if m.author == "" {
		m.author = strings.TrimSpace(firstAttr(doc, `meta[name="author"]`, "content"))
	}
	if m.publishedAt == nil {
		if v := firstAttr(doc, `meta[property="article:published_time"]`, "content"); v != "" {
			m.publishedAt = parseTime(v)
		}
	}
	if m.publishedAt == nil {
		if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			m.publishedAt = parseTime(v)
		}
	}
	return m
}

type jsonLD struct {
	author      string
	publishedAt *time.Time
	image       string
}

var articleTypes = map[string]bool{
	"Article": true, "BlogPosting": true, "NewsArticle": true, "TechArticle": true,
}

// parseJSONLD digs an Article node out of a ld+json block, tolerating
// @graph wrappers and the author's three spellings (string, object,
// array of objects).
func parseJSONLD(raw string) (jsonLD, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return jsonLD{}, false
	}
	node := findArticleNode(v)
	if node == nil {
		return jsonLD{}, false
	}

	var ld jsonLD
	ld.author = authorName(node["author"])
	if s, ok := node["datePublished"].(string); ok {
		ld.publishedAt = parseTime(s)
	}
	ld.image = imageURL(node["image"])
	return ld, true
}

func findArticleNode(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if typ, ok := t["@type"].(string); ok && articleTypes[typ] {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findArticleNode(graph)
		}
	case []any:
		for _, item := range t {
			if node := findArticleNode(item); node != nil {
				return node
			}
		}
	}
	return nil
}

func authorName(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []any:
		for _, item := range t {
			if name := authorName(item); name != "" {
				return name
			}
		}
	}
	return ""
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if u, ok := t["url"].(string); ok {
			return u
		}
	case []any:
		for _, item := range t {
			if u := imageURL(item); u != "" {
				return u
			}
		}
	}
	return ""
}

// heroImage picks the article's lead image: og:image, then Schema.org
// image, then readability's pick, then the largest in-article <img>
// carrying explicit dimensions.
func heroImage(m metadata, readabilityImage string, html []byte, base *url.URL) string {
	for _, candidate := range []string{m.ogImage, m.schemaImage, readabilityImage} {
		if candidate != "" {
			return absolutize(candidate, base)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	var best string
	bestArea := 0
	doc.Find("img[src][width][height]").Each(func(_ int, img *goquery.Selection) {
		w, _ := img.Attr("width")
		h, _ := img.Attr("height")
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if err1 != nil || err2 != nil {
			return
		}
		if area := wi * hi; area > bestArea {
			if src, ok := img.Attr("src"); ok {
				best, bestArea = src, area
			}
		}
	})
	return absolutize(best, base)
}

func absolutize(raw string, base *url.URL) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func firstAttr(doc *goquery.Document, pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if v, ok := doc.Find(pairs[i]).First().Attr(pairs[i+1]); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
