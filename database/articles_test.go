package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/siherrmann/newsdedup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string, embedding ...float32) model.IndexEntry {
	return model.IndexEntry{
		ArticleID: id,
		Embedding: embedding,
		Metadata: model.EntryMetadata{
			Title:       "Title " + id,
			SourceURL:   "https://example.com/" + id,
			PublishedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			Company:     "Acme",
		},
	}
}

func TestArticlesNewArticlesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewArticlesDBHandler", func(t *testing.T) {
		handler, err := NewArticlesDBHandler(database, testDim, true)
		assert.NoError(t, err, "Expected NewArticlesDBHandler to not return an error")
		require.NotNil(t, handler, "Expected NewArticlesDBHandler to return a non-nil instance")
		require.NotNil(t, handler.db.Instance, "Expected NewArticlesDBHandler to have a non-nil database connection instance")
		assert.Equal(t, testDim, handler.Dimension())
	})

	t.Run("Invalid call NewArticlesDBHandler with nil database", func(t *testing.T) {
		_, err := NewArticlesDBHandler(nil, testDim, false)
		assert.Error(t, err, "Expected error when creating ArticlesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil")
	})

	t.Run("Invalid call NewArticlesDBHandler with zero dimension", func(t *testing.T) {
		_, err := NewArticlesDBHandler(database, 0, false)
		assert.Error(t, err)
	})

	t.Run("Existing table with a different dimension is rejected", func(t *testing.T) {
		_, err := NewArticlesDBHandler(database, testDim+1, false)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "dimension")
	})
}

func TestArticlesQueryNearest(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()
	namespace := "query-nearest"

	t.Run("Empty namespace returns no neighbours", func(t *testing.T) {
		neighbors, err := handler.QueryNearest(ctx, "never-used", []float32{1, 0, 0, 0}, 5)
		assert.NoError(t, err, "Expected an empty namespace to not be an error")
		assert.Empty(t, neighbors)
	})

	require.NoError(t, handler.Upsert(ctx, namespace, entry("a", 1, 0, 0, 0)))
	require.NoError(t, handler.Upsert(ctx, namespace, entry("b", 0.8, 0.6, 0, 0)))
	require.NoError(t, handler.Upsert(ctx, namespace, entry("c", 0, 0, 1, 0)))

	t.Run("Neighbours are ordered by similarity", func(t *testing.T) {
		neighbors, err := handler.QueryNearest(ctx, namespace, []float32{1, 0, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, neighbors, 3)

		assert.Equal(t, "a", neighbors[0].ArticleID)
		assert.InDelta(t, 1.0, neighbors[0].Similarity, 1e-5)
		assert.Equal(t, "b", neighbors[1].ArticleID)
		assert.InDelta(t, 0.8, neighbors[1].Similarity, 1e-5)
		assert.Equal(t, "c", neighbors[2].ArticleID)
		assert.InDelta(t, 0.0, neighbors[2].Similarity, 1e-5)
		assert.Equal(t, "Title a", neighbors[0].Metadata.Title)
	})

	t.Run("TopK limits the result", func(t *testing.T) {
		neighbors, err := handler.QueryNearest(ctx, namespace, []float32{0, 0, 1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, neighbors, 1)
		assert.Equal(t, "c", neighbors[0].ArticleID)
	})

	t.Run("Wrong dimension is an error", func(t *testing.T) {
		_, err := handler.QueryNearest(ctx, namespace, []float32{1, 0}, 1)
		assert.Error(t, err)
	})

	t.Run("Corrupt metadata is skipped", func(t *testing.T) {
		require.NoError(t, handler.Upsert(ctx, namespace, entry("corrupt", 0, 0, 0, 1)))
		_, err := handler.db.Instance.Exec(
			`UPDATE news_articles SET metadata = '{"title": 42}'::jsonb WHERE namespace = $1 AND article_id = $2`,
			namespace, "corrupt",
		)
		require.NoError(t, err)

		neighbors, err := handler.QueryNearest(ctx, namespace, []float32{0, 0, 0, 1}, 4)
		require.NoError(t, err, "Expected a corrupt entry to not fail the query")
		for _, n := range neighbors {
			assert.NotEqual(t, "corrupt", n.ArticleID)
		}
		assert.Len(t, neighbors, 3)
	})
}

func TestArticlesNamespaceIsolation(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()

	require.NoError(t, handler.Upsert(ctx, "isolation-acme", entry("shared", 1, 0, 0, 0)))

	t.Run("Other namespace does not see the entry", func(t *testing.T) {
		neighbors, err := handler.QueryNearest(ctx, "isolation-globex", []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, neighbors)
	})

	t.Run("Same article id in two namespaces are two entries", func(t *testing.T) {
		require.NoError(t, handler.Upsert(ctx, "isolation-globex", entry("shared", 0, 1, 0, 0)))

		acme, err := handler.SelectArticle(ctx, "isolation-acme", "shared")
		require.NoError(t, err)
		globex, err := handler.SelectArticle(ctx, "isolation-globex", "shared")
		require.NoError(t, err)

		require.NotNil(t, acme)
		require.NotNil(t, globex)
		assert.Equal(t, []float32{1, 0, 0, 0}, acme.Embedding)
		assert.Equal(t, []float32{0, 1, 0, 0}, globex.Embedding)
	})
}

func TestArticlesCrowdedNamespace(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()

	// One session so the planner setting applies to every query of the test
	handler.db.Instance.SetMaxOpenConns(1)
	_, err := handler.db.Instance.ExecContext(ctx, `SET enable_seqscan = off`)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = handler.ChangeIndexType(context.Background(), IndexTypeHNSW, nil)
		_, _ = handler.DeleteNamespace(context.Background(), "crowded-acme")
		_, _ = handler.DeleteNamespace(context.Background(), "crowded-globex")
	})

	crowded := []model.IndexEntry{}
	for i := range 60 {
		crowded = append(crowded, entry(fmt.Sprintf("crowded-%02d", i), 1, float32(i)*0.001, 0, 0))
	}
	failed, err := handler.UpsertBatch(ctx, "crowded-acme", crowded)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.NoError(t, handler.Upsert(ctx, "crowded-globex", entry("globex-match", 0.9, 0.43589, 0, 0)))

	query := []float32{1, 0, 0, 0}
	assertFindsOwnNeighbour := func(t *testing.T) {
		neighbors, err := handler.QueryNearest(ctx, "crowded-globex", query, 1)
		require.NoError(t, err)
		require.Len(t, neighbors, 1, "Expected the small namespace to find its neighbour")
		assert.Equal(t, "globex-match", neighbors[0].ArticleID)
		assert.InDelta(t, 0.9, neighbors[0].Similarity, 1e-4)

		neighbors, err = handler.QueryNearest(ctx, "crowded-acme", query, 3)
		require.NoError(t, err)
		require.Len(t, neighbors, 3)
		assert.Equal(t, "crowded-00", neighbors[0].ArticleID)
	}

	t.Run("Small namespace finds its neighbour behind an HNSW index", func(t *testing.T) {
		require.NoError(t, handler.ChangeIndexType(ctx, IndexTypeHNSW, nil))
		assertFindsOwnNeighbour(t)
	})

	t.Run("Small namespace finds its neighbour behind an IVFFlat index", func(t *testing.T) {
		require.NoError(t, handler.ChangeIndexType(ctx, IndexTypeIVFFlat, map[string]int{"lists": 10}))
		assertFindsOwnNeighbour(t)
	})
}

func TestArticlesUpsert(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()
	namespace := "upsert"

	t.Run("Upsert is idempotent", func(t *testing.T) {
		e := entry("same", 0, 1, 0, 0)
		require.NoError(t, handler.Upsert(ctx, namespace, e))
		require.NoError(t, handler.Upsert(ctx, namespace, e))

		stats, err := handler.SelectNamespaceStats(ctx, namespace)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(1), stats[0].Entries)
	})

	t.Run("Second upsert overwrites the first", func(t *testing.T) {
		first := entry("overwrite", 1, 0, 0, 0)
		second := entry("overwrite", 0, 0, 1, 0)
		second.Metadata.Title = "Updated"

		require.NoError(t, handler.Upsert(ctx, namespace, first))
		require.NoError(t, handler.Upsert(ctx, namespace, second))

		stored, err := handler.SelectArticle(ctx, namespace, "overwrite")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "Updated", stored.Metadata.Title)
		assert.Equal(t, []float32{0, 0, 1, 0}, stored.Embedding)
	})

	t.Run("Stored metadata keeps the persisted fields", func(t *testing.T) {
		e := entry("meta", 0, 0, 0, 1)
		e.Metadata.StoredAt = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
		require.NoError(t, handler.Upsert(ctx, namespace, e))

		stored, err := handler.SelectArticle(ctx, namespace, "meta")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "https://example.com/meta", stored.Metadata.SourceURL)
		assert.Equal(t, "Acme", stored.Metadata.Company)
		assert.True(t, e.Metadata.PublishedAt.Equal(stored.Metadata.PublishedAt))
		assert.True(t, e.Metadata.StoredAt.Equal(stored.Metadata.StoredAt))
	})

	t.Run("Missing article returns nil", func(t *testing.T) {
		stored, err := handler.SelectArticle(ctx, namespace, "missing")
		assert.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("Wrong dimension is rejected", func(t *testing.T) {
		err := handler.Upsert(ctx, namespace, entry("short", 1, 0))
		assert.Error(t, err)
	})
}

func TestArticlesUpsertBatch(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()
	namespace := "batch"

	t.Run("Batch upsert stores all entries", func(t *testing.T) {
		entries := []model.IndexEntry{}
		for i := 0; i < 10; i++ {
			entries = append(entries, entry(fmt.Sprintf("batch-%d", i), 1, float32(i), 0, 0))
		}

		failed, err := handler.UpsertBatch(ctx, namespace, entries)
		require.NoError(t, err)
		assert.Empty(t, failed)

		stats, err := handler.SelectNamespaceStats(ctx, namespace)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(10), stats[0].Entries)
	})

	t.Run("Repeated id in one batch keeps the last entry", func(t *testing.T) {
		first := entry("dup", 1, 0, 0, 0)
		last := entry("dup", 0, 1, 0, 0)

		failed, err := handler.UpsertBatch(ctx, namespace, []model.IndexEntry{first, last})
		require.NoError(t, err)
		assert.Empty(t, failed)

		stored, err := handler.SelectArticle(ctx, namespace, "dup")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, []float32{0, 1, 0, 0}, stored.Embedding)
	})

	t.Run("Invalid entries are reported without failing the batch", func(t *testing.T) {
		failed, err := handler.UpsertBatch(ctx, namespace, []model.IndexEntry{
			entry("valid", 0, 0, 1, 0),
			entry("invalid", 1),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"invalid"}, failed)

		stored, err := handler.SelectArticle(ctx, namespace, "valid")
		require.NoError(t, err)
		assert.NotNil(t, stored)
	})

	t.Run("Empty batch is a no-op", func(t *testing.T) {
		failed, err := handler.UpsertBatch(ctx, namespace, nil)
		assert.NoError(t, err)
		assert.Empty(t, failed)
	})
}

func TestArticlesStatsAndDelete(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()

	require.NoError(t, handler.Upsert(ctx, "stats-a", entry("1", 1, 0, 0, 0)))
	require.NoError(t, handler.Upsert(ctx, "stats-a", entry("2", 0, 1, 0, 0)))
	require.NoError(t, handler.Upsert(ctx, "stats-b", entry("1", 1, 0, 0, 0)))

	t.Run("Stats of all namespaces", func(t *testing.T) {
		stats, err := handler.SelectNamespaceStats(ctx, "")
		require.NoError(t, err)

		counts := map[string]int64{}
		for _, s := range stats {
			counts[s.Namespace] = s.Entries
		}
		assert.Equal(t, int64(2), counts["stats-a"])
		assert.Equal(t, int64(1), counts["stats-b"])
	})

	t.Run("Delete namespace removes only its entries", func(t *testing.T) {
		deleted, err := handler.DeleteNamespace(ctx, "stats-a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		stats, err := handler.SelectNamespaceStats(ctx, "stats-a")
		require.NoError(t, err)
		assert.Empty(t, stats)

		stats, err = handler.SelectNamespaceStats(ctx, "stats-b")
		require.NoError(t, err)
		assert.Len(t, stats, 1)
	})
}

func TestArticlesUnavailable(t *testing.T) {
	handler := initHandler(t)

	t.Run("Expired deadline is reported as unavailable", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		_, err := handler.QueryNearest(ctx, "expired", []float32{1, 0, 0, 0}, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrIndexUnavailable), "Expected %v to be ErrIndexUnavailable", err)

		assert.ErrorIs(t, handler.Ping(ctx), model.ErrIndexUnavailable)
	})
}
