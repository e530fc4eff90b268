package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/siherrmann/newsdedup/helper"
)

// MaxSnippetLength bounds the stored body snippet in runes.
const MaxSnippetLength = 1000

// Article is a candidate news article produced by the ingest stage.
type Article struct {
	ID             string    `json:"id"`
	Company        string    `json:"company"`
	Title          string    `json:"title"`
	BodySnippet    string    `json:"body_snippet"`
	PublishedAt    time.Time `json:"published_at"`
	RelevanceScore float64   `json:"relevance_score"`
	SourceURL      string    `json:"source_url"`
	Source         string    `json:"source,omitempty"`
}

// Prepare derives the id from the source url, falls back to ingestedAt for a missing
// publish time and bounds the snippet length.
func (a *Article) Prepare(ingestedAt time.Time) error {
	if a.ID == "" {
		if strings.TrimSpace(a.SourceURL) == "" {
			return helper.NewError("prepare article", fmt.Errorf("article %q has neither id nor source url", a.Title))
		}
		a.ID = ArticleIDFromURL(a.SourceURL)
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = ingestedAt.UTC()
	}
	a.BodySnippet = truncateRunes(a.BodySnippet, MaxSnippetLength)
	return nil
}

// Text is the content that gets embedded.
func (a Article) Text() string {
	return strings.TrimSpace(a.Title + " " + a.BodySnippet)
}

// ArticleIDFromURL returns a stable id for a source url.
// Scheme and host are lower-cased, the fragment and a trailing slash are dropped
// so trivially different spellings of one url share an id.
func ArticleIDFromURL(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(CanonicalURL(rawURL))).String()
}

// CanonicalURL normalizes a url for id derivation.
func CanonicalURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(trimmed, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// NamespaceFor returns the index namespace of a company.
func NamespaceFor(company string) string {
	return strings.Join(strings.Fields(strings.ToLower(company)), "-")
}

// EmbeddedArticle is an article with its normalized embedding.
type EmbeddedArticle struct {
	Article
	Embedding []float32 `json:"-"`
}

// Decision is the classification of a candidate against the history.
type Decision string

const (
	// DecisionNew marks an article that is stored and reported.
	DecisionNew Decision = "new"
	// DecisionDuplicate marks an article similar to a stored or kept one.
	DecisionDuplicate Decision = "duplicate"
	// DecisionUnknown marks an article whose lookup failed. It is neither stored nor reported.
	DecisionUnknown Decision = "unknown"
)

// ClassifiedArticle is the output of the deduplicator.
type ClassifiedArticle struct {
	EmbeddedArticle
	Decision    Decision `json:"decision"`
	MatchedID   string   `json:"matched_id,omitempty"`
	Similarity  float64  `json:"similarity,omitempty"`
	WithinBatch bool     `json:"within_batch,omitempty"`
	Err         error    `json:"-"`
}

// IndexEntry converts a classified article to its persisted form.
func (c ClassifiedArticle) IndexEntry(storedAt time.Time) IndexEntry {
	return IndexEntry{
		ArticleID: c.ID,
		Embedding: c.Embedding,
		Metadata: EntryMetadata{
			Title:          c.Title,
			SourceURL:      c.SourceURL,
			PublishedAt:    c.PublishedAt,
			StoredAt:       storedAt.UTC(),
			Company:        c.Company,
			Source:         c.Source,
			RelevanceScore: c.RelevanceScore,
		},
	}
}

// IndexEntry is one stored article of a namespace.
type IndexEntry struct {
	ArticleID string        `json:"article_id"`
	Embedding []float32     `json:"-"`
	Metadata  EntryMetadata `json:"metadata"`
}

// Neighbor is a query hit of the similarity index.
type Neighbor struct {
	ArticleID  string        `json:"article_id"`
	Similarity float64       `json:"similarity"`
	Metadata   EntryMetadata `json:"metadata"`
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
