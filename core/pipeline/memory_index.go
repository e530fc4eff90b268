package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

// MemoryIndex is an in-process Index. It backs dry runs and tests.
// The hooks inject failures: a non nil error returned by a hook is returned by the call.
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]model.IndexEntry

	PingHook   func() error
	QueryHook  func(namespace string) error
	UpsertHook func(namespace string, entry model.IndexEntry) error
	// BatchHook returns the ids to reject and an error for the whole statement.
	BatchHook func(namespace string, entries []model.IndexEntry) ([]string, error)
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{namespaces: map[string]map[string]model.IndexEntry{}}
}

// Ping fails only through PingHook.
func (m *MemoryIndex) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIndexUnavailable, err)
	}
	if m.PingHook != nil {
		return m.PingHook()
	}
	return nil
}

// QueryNearest scans the namespace and returns the topK most similar entries.
func (m *MemoryIndex) QueryNearest(ctx context.Context, namespace string, embedding []float32, topK int) ([]model.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrIndexUnavailable, err)
	}
	if m.QueryHook != nil {
		if err := m.QueryHook(namespace); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	neighbors := []model.Neighbor{}
	for _, entry := range m.namespaces[namespace] {
		if len(entry.Embedding) != len(embedding) {
			continue
		}
		neighbors = append(neighbors, model.Neighbor{
			ArticleID:  entry.ArticleID,
			Similarity: helper.CosineSimilarity(embedding, entry.Embedding),
			Metadata:   entry.Metadata,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].ArticleID < neighbors[j].ArticleID
	})
	if topK > 0 && len(neighbors) > topK {
		neighbors = neighbors[:topK]
	}

	return neighbors, nil
}

// Upsert inserts or replaces one entry.
func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, entry model.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIndexUnavailable, err)
	}
	if m.UpsertHook != nil {
		if err := m.UpsertHook(namespace, entry); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(namespace, entry)
	return nil
}

// UpsertBatch inserts or replaces entries and returns the ids that were not written.
func (m *MemoryIndex) UpsertBatch(ctx context.Context, namespace string, entries []model.IndexEntry) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return entryIDs(entries), fmt.Errorf("%w: %w", model.ErrIndexUnavailable, err)
	}

	rejected := map[string]bool{}
	if m.BatchHook != nil {
		failed, err := m.BatchHook(namespace, entries)
		if err != nil {
			return entryIDs(entries), err
		}
		for _, id := range failed {
			rejected[id] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	failed := []string{}
	for _, entry := range entries {
		if rejected[entry.ArticleID] {
			failed = append(failed, entry.ArticleID)
			continue
		}
		m.put(namespace, entry)
	}
	return failed, nil
}

// Get returns a stored entry.
func (m *MemoryIndex) Get(namespace string, articleID string) (model.IndexEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.namespaces[namespace][articleID]
	return entry, ok
}

// Count returns the number of entries in namespace.
func (m *MemoryIndex) Count(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace])
}

// Stats returns one row per namespace, sorted by name.
func (m *MemoryIndex) Stats() []model.NamespaceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := []model.NamespaceStats{}
	for ns, entries := range m.namespaces {
		s := model.NamespaceStats{Namespace: ns, Entries: int64(len(entries))}
		for _, e := range entries {
			if e.Metadata.StoredAt.After(s.LastStoredAt) {
				s.LastStoredAt = e.Metadata.StoredAt
			}
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Namespace < stats[j].Namespace })
	return stats
}

func (m *MemoryIndex) put(namespace string, entry model.IndexEntry) {
	if m.namespaces[namespace] == nil {
		m.namespaces[namespace] = map[string]model.IndexEntry{}
	}
	entry.Embedding = copyVector(entry.Embedding)
	if entry.Metadata.StoredAt.IsZero() {
		entry.Metadata.StoredAt = time.Now()
	}
	m.namespaces[namespace][entry.ArticleID] = entry
}

func entryIDs(entries []model.IndexEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ArticleID
	}
	return ids
}
