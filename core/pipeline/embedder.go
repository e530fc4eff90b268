package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

// DefaultModelName is the local sentence transformer used by the hugot embedder.
const DefaultModelName = "sentence-transformers/all-MiniLM-L6-v2"

// DefaultModelDimension is the output dimension of DefaultModelName.
const DefaultModelDimension = 384

// CanonicalEmbedder canonicalizes the input, checks the dimension and normalizes the output
// of another embedder. Every vector that reaches the index passes through it.
type CanonicalEmbedder struct {
	next     Embedder
	maxChars int
}

// NewCanonicalEmbedder wraps next with canonicalization and normalization.
func NewCanonicalEmbedder(next Embedder, maxChars int) *CanonicalEmbedder {
	return &CanonicalEmbedder{next: next, maxChars: maxChars}
}

// Embed returns the unit length embedding of the canonical form of text.
func (e *CanonicalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	canonical := Canonicalize(text, e.maxChars)
	if canonical == "" {
		return nil, fmt.Errorf("%w: empty text", model.ErrEmbedding)
	}

	embedding, err := e.next.Embed(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmbedding, err)
	}
	if len(embedding) != e.next.Dimension() {
		return nil, fmt.Errorf("%w: got dimension %d, expected %d", model.ErrEmbedding, len(embedding), e.next.Dimension())
	}

	normalized, ok := helper.Normalize(embedding)
	if !ok {
		return nil, fmt.Errorf("%w: zero or invalid vector", model.ErrEmbedding)
	}

	return normalized, nil
}

// Dimension returns the dimension of the wrapped embedder.
func (e *CanonicalEmbedder) Dimension() int {
	return e.next.Dimension()
}

// HugotEmbedder runs a local ONNX sentence transformer.
type HugotEmbedder struct {
	session   *hugot.Session
	embed     EmbedFunc
	dimension int
	mu        sync.Mutex
}

// DefaultEmbedder creates an embedder using the all-MiniLM-L6-v2 sentence transformer model
// which produces 384-dimensional embeddings
func DefaultEmbedder() (*HugotEmbedder, error) {
	return NewHugotEmbedder(helper.DefaultModelDir, DefaultModelName, "onnx/model.onnx", DefaultModelDimension)
}

// NewHugotEmbedder prepares (downloads if needed) the model and creates the pipeline.
func NewHugotEmbedder(modelDir string, modelName string, onnxFilePath string, dimension int) (*HugotEmbedder, error) {
	modelPath, err := helper.PrepareModelInDir(modelDir, modelName, onnxFilePath)
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	embed := func(text string) ([]float32, error) {
		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}
		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated")
		}
		return result.Embeddings[0], nil
	}

	return &HugotEmbedder{
		session:   session,
		embed:     embed,
		dimension: dimension,
	}, nil
}

// Embed runs the model on text. Calls are serialized on the session.
func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.embed(text)
}

// Dimension returns the model output dimension.
func (e *HugotEmbedder) Dimension() int {
	return e.dimension
}

// Close releases the hugot session.
func (e *HugotEmbedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}
