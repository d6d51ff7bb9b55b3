package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

var (
	ErrEmptyEmbedding = goerr.New("embedding provider returned an empty vector")
)

// EmbeddingClient converts text into a fixed-length vector. The vector
// length is constant for a given model configuration.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type GeminiClient struct {
	client         *genai.Client
	embeddingModel string
	dimensions     int32
}

type GeminiOption func(*GeminiClient)

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

func WithDimensions(dims int) GeminiOption {
	return func(g *GeminiClient) {
		g.dimensions = int32(dims)
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:         client,
		embeddingModel: "gemini-embedding-001",
		dimensions:     768,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(g.dimensions),
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.Wrap(ErrEmptyEmbedding, "embed content", goerr.V("model", g.embeddingModel))
	}

	return resp.Embeddings[0].Values, nil
}
