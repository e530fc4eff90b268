package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryMetadata_Marshal(t *testing.T) {
	t.Run("Marshal uses the persisted keys", func(t *testing.T) {
		m := EntryMetadata{
			Title:       "Acme raises prices",
			SourceURL:   "https://example.com/a",
			PublishedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			StoredAt:    time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Company:     "Acme",
		}

		bytes, err := m.Marshal()
		require.NoError(t, err)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes, &result))
		assert.Equal(t, "Acme raises prices", result["title"])
		assert.Equal(t, "https://example.com/a", result["source_url"])
		assert.Equal(t, "2024-01-02T03:04:05Z", result["published_at"])
		assert.Equal(t, "2024-01-03T00:00:00Z", result["stored_at"])
		assert.Equal(t, "Acme", result["company"])
		assert.NotContains(t, result, "source", "Expected empty source to be omitted")
	})

	t.Run("Value returns the JSON bytes", func(t *testing.T) {
		m := EntryMetadata{Title: "x"}

		value, err := m.Value()
		require.NoError(t, err)

		bytes, ok := value.([]byte)
		require.True(t, ok, "Expected Value to return []byte")
		assert.Contains(t, string(bytes), `"title":"x"`)
	})
}

func TestEntryMetadata_Unmarshal(t *testing.T) {
	t.Run("Unmarshal from bytes", func(t *testing.T) {
		var m EntryMetadata
		err := m.Unmarshal([]byte(`{"title":"t","company":"Acme","relevance_score":0.7}`))

		require.NoError(t, err)
		assert.Equal(t, "t", m.Title)
		assert.Equal(t, "Acme", m.Company)
		assert.Equal(t, 0.7, m.RelevanceScore)
	})

	t.Run("Unmarshal from string", func(t *testing.T) {
		var m EntryMetadata
		require.NoError(t, m.Unmarshal(`{"source_url":"https://example.com"}`))
		assert.Equal(t, "https://example.com", m.SourceURL)
	})

	t.Run("Unmarshal nil resets metadata", func(t *testing.T) {
		m := EntryMetadata{Title: "old"}
		require.NoError(t, m.Unmarshal(nil))
		assert.Equal(t, EntryMetadata{}, m)
	})

	t.Run("Unmarshal from EntryMetadata", func(t *testing.T) {
		var m EntryMetadata
		require.NoError(t, m.Unmarshal(EntryMetadata{Company: "Acme"}))
		assert.Equal(t, "Acme", m.Company)
	})

	t.Run("Unmarshal invalid type", func(t *testing.T) {
		var m EntryMetadata
		err := m.Unmarshal(12345)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "type assertion")
	})

	t.Run("Unmarshal corrupt JSON", func(t *testing.T) {
		var m EntryMetadata
		assert.Error(t, m.Scan([]byte(`{"title":`)))
	})

	t.Run("Round trip through Value and Scan", func(t *testing.T) {
		original := EntryMetadata{
			Title:          "Acme opens plant",
			PublishedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Company:        "Acme",
			Source:         "Reuters",
			RelevanceScore: 0.9,
		}

		value, err := original.Value()
		require.NoError(t, err)

		var scanned EntryMetadata
		require.NoError(t, scanned.Scan(value))
		assert.Equal(t, original, scanned)
	})
}
