package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/siherrmann/newsdedup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty namespace returns no neighbours", func(t *testing.T) {
		index := NewMemoryIndex()

		neighbors, err := index.QueryNearest(ctx, "acme-corp", baseVector, 1)
		require.NoError(t, err)
		assert.NotNil(t, neighbors)
		assert.Empty(t, neighbors)
	})

	t.Run("Neighbours are ordered by similarity and limited", func(t *testing.T) {
		index := NewMemoryIndex()
		seed(t, index, "acme-corp", "far", atSimilarity(0.2))
		seed(t, index, "acme-corp", "near", atSimilarity(0.9))
		seed(t, index, "acme-corp", "mid", atSimilarity(0.5))

		neighbors, err := index.QueryNearest(ctx, "acme-corp", baseVector, 2)
		require.NoError(t, err)
		require.Len(t, neighbors, 2)
		assert.Equal(t, "near", neighbors[0].ArticleID)
		assert.Equal(t, "mid", neighbors[1].ArticleID)
		assert.InDelta(t, 0.9, neighbors[0].Similarity, 1e-4)
	})

	t.Run("Namespaces are isolated", func(t *testing.T) {
		index := NewMemoryIndex()
		seed(t, index, "acme-corp", "a", baseVector)

		neighbors, err := index.QueryNearest(ctx, "beta-inc", baseVector, 1)
		require.NoError(t, err)
		assert.Empty(t, neighbors)
		assert.Equal(t, 0, index.Count("beta-inc"))
	})

	t.Run("Upsert replaces an existing entry", func(t *testing.T) {
		index := NewMemoryIndex()
		seed(t, index, "acme-corp", "a", baseVector)
		seed(t, index, "acme-corp", "a", []float32{0, 1})

		assert.Equal(t, 1, index.Count("acme-corp"))
		entry, ok := index.Get("acme-corp", "a")
		require.True(t, ok)
		assert.Equal(t, []float32{0, 1}, entry.Embedding)
	})

	t.Run("Stored vectors are copied", func(t *testing.T) {
		index := NewMemoryIndex()
		v := []float32{1, 0}
		seed(t, index, "acme-corp", "a", v)
		v[0] = 0

		entry, _ := index.Get("acme-corp", "a")
		assert.Equal(t, float32(1), entry.Embedding[0])
	})

	t.Run("Batch hook rejects single ids", func(t *testing.T) {
		index := NewMemoryIndex()
		index.BatchHook = func(namespace string, entries []model.IndexEntry) ([]string, error) {
			return []string{"b"}, nil
		}

		failed, err := index.UpsertBatch(ctx, "acme-corp", []model.IndexEntry{
			{ArticleID: "a", Embedding: baseVector},
			{ArticleID: "b", Embedding: baseVector},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, failed)
		assert.Equal(t, 1, index.Count("acme-corp"))
	})

	t.Run("Batch error fails every id", func(t *testing.T) {
		index := NewMemoryIndex()
		index.BatchHook = func(namespace string, entries []model.IndexEntry) ([]string, error) {
			return nil, errors.New("boom")
		}

		failed, err := index.UpsertBatch(ctx, "acme-corp", []model.IndexEntry{{ArticleID: "a"}, {ArticleID: "b"}})
		assert.Error(t, err)
		assert.Equal(t, []string{"a", "b"}, failed)
	})

	t.Run("Cancelled context is unavailable", func(t *testing.T) {
		index := NewMemoryIndex()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := index.QueryNearest(cancelled, "acme-corp", baseVector, 1)
		assert.ErrorIs(t, err, model.ErrIndexUnavailable)
		assert.ErrorIs(t, index.Ping(cancelled), model.ErrIndexUnavailable)
	})

	t.Run("Stats per namespace", func(t *testing.T) {
		index := NewMemoryIndex()
		storedAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, index.Upsert(ctx, "beta-inc", model.IndexEntry{ArticleID: "x", Embedding: baseVector, Metadata: model.EntryMetadata{StoredAt: storedAt}}))
		seed(t, index, "acme-corp", "a", baseVector)
		seed(t, index, "acme-corp", "b", baseVector)

		stats := index.Stats()
		require.Len(t, stats, 2)
		assert.Equal(t, "acme-corp", stats[0].Namespace)
		assert.Equal(t, int64(2), stats[0].Entries)
		assert.Equal(t, "beta-inc", stats[1].Namespace)
		assert.Equal(t, storedAt, stats[1].LastStoredAt)
	})
}
