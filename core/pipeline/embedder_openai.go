package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"github.com/siherrmann/newsdedup/model"
	"golang.org/x/time/rate"
)

// DefaultOpenAIDimension is the native dimension of text-embedding-3-small.
const DefaultOpenAIDimension = 1536

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
	limiter   *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder for config. Requests are limited to
// config.RequestsPerSecond with config.Burst.
func NewOpenAIEmbedder(config model.EmbedderConfig, dimension int) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if dimension < 1 {
		dimension = DefaultOpenAIDimension
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	embeddingModel := openai.SmallEmbedding3
	if config.Model != "" {
		embeddingModel = openai.EmbeddingModel(config.Model)
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 5
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     embeddingModel,
		dimension: dimension,
		limiter:   rate.NewLimiter(limit, burst),
	}, nil
}

// Embed requests the embedding of text.
// Rate limits, server errors and network failures are marked with model.ErrEmbedderUnavailable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	request := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	// Only the v3 models accept a reduced dimension
	if e.model == openai.SmallEmbedding3 || e.model == openai.LargeEmbedding3 {
		request.Dimensions = e.dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, request)
	if err != nil {
		if transientOpenAIError(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrEmbedderUnavailable, err)
		}
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return resp.Data[0].Embedding, nil
}

// Dimension returns the requested output dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func transientOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}
