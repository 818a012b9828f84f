// Package types holds the shared data model for the ingestion engine:
// candidate posts produced by source adapters, extracted article content,
// and the canonical URL / fingerprint derivation both rely on.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CandidatePost is a minimally-populated article reference produced by a
// source adapter. It is owned by the adapter until the orchestrator hands
// it to the enrichment pipeline.
type CandidatePost struct {
	SourceName  string     `json:"source_name"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Author      string     `json:"author,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// Fingerprint returns the content-addressed identifier for the post.
// It is derived from the source name and the canonical URL only, so title
// edits upstream never create duplicates.
func (p CandidatePost) Fingerprint() string {
	return Fingerprint(p.SourceName, p.URL)
}

// Fingerprint derives the stable post identifier from a source name and a
// raw URL. The URL is canonicalized first; two runs that see the same
// article yield the same fingerprint even if ordering or query decoration
// differs.
func Fingerprint(sourceName, rawURL string) string {
	canon, err := CanonicalURL(rawURL)
	if err != nil {
		canon = rawURL
	}
	sum := sha256.Sum256([]byte(sourceName + "\x1f" + canon))
	return hex.EncodeToString(sum[:])
}

// ArticleContent is the extractor's output for a single page. It is
// transient: consumed within one enrichment invocation and never persisted
// as-is.
type ArticleContent struct {
	Text         string
	HTML         string
	Author       string
	PublishedAt  *time.Time
	WordCount    int
	HeroImageURL string
}
