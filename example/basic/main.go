package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/newsdedup"
	"github.com/siherrmann/newsdedup/core/ingest"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

func candidates(day time.Time) ingest.Static {
	return ingest.Static{
		"Acme Corp": {
			{
				Company:        "Acme Corp",
				Title:          "Acme Corp posts record Q3 revenue",
				BodySnippet:    "<p>Acme Corp reported record revenue for the third quarter, beating analyst expectations.</p>",
				PublishedAt:    day,
				RelevanceScore: 9.0,
				SourceURL:      "https://news.example.com/acme/q3-record",
			},
			{
				Company:        "Acme Corp",
				Title:          "Acme Corporation reports record third-quarter revenue",
				BodySnippet:    "Revenue at Acme Corporation hit a record in the third quarter.",
				PublishedAt:    day.Add(time.Hour),
				RelevanceScore: 7.5,
				SourceURL:      "https://wire.example.org/acme-third-quarter",
			},
			{
				Company:        "Acme Corp",
				Title:          "Acme opens new plant in Ohio",
				BodySnippet:    "The plant will employ 400 people starting next spring.",
				PublishedAt:    day,
				RelevanceScore: 6.0,
				SourceURL:      "https://news.example.com/acme/ohio-plant",
			},
		},
		"Beta Inc": {
			{
				Company:        "Beta Inc",
				Title:          "Beta Inc names new chief financial officer",
				PublishedAt:    day,
				RelevanceScore: 5.0,
				SourceURL:      "https://news.example.com/beta/cfo",
			},
		},
	}
}

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	// Local hugot embedder with all-MiniLM-L6-v2 (384 dimensions) and a log notifier
	config := model.DefaultConfig()

	n, err := newsdedup.New(config, dbConfig, newsdedup.Options{Source: candidates(time.Now().UTC())})
	if err != nil {
		log.Fatalf("Failed to create news dedup: %v", err)
	}
	defer n.Close()

	ctx := context.Background()

	// The second run sees the history of the first one and stores nothing
	for run := 1; run <= 2; run++ {
		fmt.Printf("\n=== Run %d ===\n", run)
		report, err := n.Run(ctx, []string{"Acme Corp", "Beta Inc"})
		if err != nil {
			log.Fatalf("Failed to run: %v", err)
		}

		for _, c := range report.Companies {
			fmt.Printf("%-10s collected=%d new=%d duplicate=%d unknown=%d stored=%d\n",
				c.Company, c.Collected, c.New, c.Duplicate, c.Unknown, c.Stored)
		}
	}

	stats, err := n.Stats(ctx, "")
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}
	fmt.Println("\nStored history:")
	for _, s := range stats {
		fmt.Printf("  %s: %d articles\n", s.Namespace, s.Entries)
	}

	fmt.Println("\nBasic example completed successfully!")
}
