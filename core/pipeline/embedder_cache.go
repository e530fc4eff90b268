package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedEmbedder memoizes embeddings of identical texts in memory.
// It only saves embedding calls, duplicate decisions always go to the index.
type CachedEmbedder struct {
	next  Embedder
	model string
	cache *gocache.Cache
}

// NewCachedEmbedder wraps next. modelName is part of the key so switching models never hits old entries.
func NewCachedEmbedder(next Embedder, modelName string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		model: modelName,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Embed returns a cached copy or calls the wrapped embedder.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if val, found := e.cache.Get(key); found {
		return copyVector(val.([]float32)), nil
	}

	embedding, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.SetDefault(key, copyVector(embedding))
	return embedding, nil
}

// Dimension returns the dimension of the wrapped embedder.
func (e *CachedEmbedder) Dimension() int {
	return e.next.Dimension()
}

// Len returns the number of cached embeddings.
func (e *CachedEmbedder) Len() int {
	return e.cache.ItemCount()
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
