package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/siherrmann/newsdedup"
	"github.com/siherrmann/newsdedup/core/ingest"
	"github.com/siherrmann/newsdedup/core/pipeline"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

const yesterday = `[
	{"company": "Acme Corp", "title": "Acme Corp posts record Q3 revenue", "relevance_score": 9, "source_url": "https://news.example.com/acme/q3-record", "published_at": "2026-10-18T08:00:00Z"},
	{"company": "Globex", "title": "Globex recalls 10,000 e-bikes over battery fires", "relevance_score": 8, "source_url": "https://news.example.com/globex/recall", "published_at": "2026-10-18T09:30:00Z"}
]`

const today = `{"articles": [
	{"company": "Acme Corp", "title": "Acme Corporation reports record third-quarter revenue", "relevance_score": 7.5, "source_url": "https://wire.example.org/acme-q3", "published_at": "2026-10-19T07:00:00Z"},
	{"company": "Acme Corp", "title": "Acme CEO to step down at year end", "body_snippet": "<b>Breaking:</b> the chief executive announced her departure.", "relevance_score": 9.5, "source_url": "https://news.example.com/acme/ceo", "published_at": "2026-10-19T07:15:00Z"},
	{"company": "Globex", "title": "Globex e-bike recall widens", "relevance_score": 6, "source_url": "https://news.example.com/globex/recall-widens", "published_at": "2026-10-19T10:00:00Z"},
	{"company": "Globex", "title": "Globex e-bike recall widens", "relevance_score": 5, "source_url": "https://mirror.example.net/globex/recall-widens", "published_at": "2026-10-19T10:05:00Z"}
]}`

// printNotifier prints every digest instead of publishing it.
type printNotifier struct{}

func (printNotifier) Notify(ctx context.Context, digest model.Digest) error {
	fmt.Printf("\nDigest for %s (%d stored):\n", digest.Company, digest.Storage.StoredCount)
	for _, article := range digest.Articles {
		fmt.Printf("  %.1f  %s\n", article.RelevanceScore, article.Title)
	}
	return nil
}

func run(ctx context.Context, n *newsdedup.NewsDedup, label string) {
	report, err := n.Run(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to run %s: %v", label, err)
	}

	fmt.Printf("\n=== %s ===\n", label)
	for _, c := range report.Companies {
		fmt.Printf("%-10s collected=%d new=%d duplicate=%d unknown=%d stored=%d (%s)\n",
			c.Company, c.Collected, c.New, c.Duplicate, c.Unknown, c.Stored, c.Duration)
	}
}

func main() {
	ctx := context.Background()

	config := model.DefaultConfig()
	config.Dedup.Threshold = 0.80
	config.Dedup.TopK = 3
	config.Storage.BatchSize = 2

	embedder, closeEmbedder, err := newsdedup.NewEmbedder(config)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	defer closeEmbedder()

	// Both days share one in-memory history, no database needed
	index := pipeline.NewMemoryIndex()
	logger := helper.NewLogger(slog.LevelWarn)

	for _, day := range []struct {
		label string
		input string
	}{
		{"Yesterday", yesterday},
		{"Today", today},
	} {
		n, err := newsdedup.New(config, nil, newsdedup.Options{
			Source:   ingest.NewJSONReaderSource(strings.NewReader(day.input), logger),
			Embedder: embedder,
			Notifier: printNotifier{},
			Index:    index,
			Logger:   logger,
		})
		if err != nil {
			log.Fatalf("Failed to create news dedup: %v", err)
		}
		run(ctx, n, day.label)
		_ = n.Close()
	}

	fmt.Println("\nHistory:")
	for _, s := range index.Stats() {
		fmt.Printf("  %s: %d articles, last stored %s\n", s.Namespace, s.Entries, s.LastStoredAt.Format("15:04:05"))
	}

	fmt.Println("\nAdvanced example completed successfully!")
}
