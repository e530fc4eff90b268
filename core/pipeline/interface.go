package pipeline

import (
	"context"

	"github.com/siherrmann/newsdedup/model"
)

// EmbedFunc is a function that generates embeddings for text
type EmbedFunc func(text string) ([]float32, error)

// Embedder turns text into a vector of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Index is the persistent similarity index, partitioned by namespace.
// QueryNearest returns neighbours ordered by similarity, highest first,
// and an empty slice for an empty namespace.
type Index interface {
	Ping(ctx context.Context) error
	QueryNearest(ctx context.Context, namespace string, embedding []float32, topK int) ([]model.Neighbor, error)
	Upsert(ctx context.Context, namespace string, entry model.IndexEntry) error
	UpsertBatch(ctx context.Context, namespace string, entries []model.IndexEntry) ([]string, error)
}

// Source produces the relevance filtered candidates of a company.
type Source interface {
	Collect(ctx context.Context, company string) ([]model.Article, error)
}

// Notifier delivers the accepted articles of a company.
type Notifier interface {
	Notify(ctx context.Context, digest model.Digest) error
}

// funcEmbedder adapts an EmbedFunc to the Embedder interface
type funcEmbedder struct {
	fn        EmbedFunc
	dimension int
}

// NewFuncEmbedder wraps a plain embedding function.
func NewFuncEmbedder(fn EmbedFunc, dimension int) Embedder {
	return &funcEmbedder{fn: fn, dimension: dimension}
}

func (e *funcEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.fn(text)
}

func (e *funcEmbedder) Dimension() int {
	return e.dimension
}
