// Package embed provides the embedding client for chunk and query vectors:
// batched requests against a primary provider with automatic fallback and
// per-call usage logging.
package embed

import (
	"context"

	"google.golang.org/genai"

	"dealgraph.org/common"
)

// Provider generates embedding vectors.
type Provider interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenAIProvider embeds through Google's Gemini API.
type GenAIProvider struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIProvider creates a Gemini embedding provider. taskType should be
// RETRIEVAL_DOCUMENT for chunk ingestion and RETRIEVAL_QUERY for queries.
func NewGenAIProvider(ctx context.Context, apiKey, model, taskType string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, common.E(common.KindValidation, "embedding api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, common.Wrap(common.KindProviderUnavailable, "failed to create genai client", err)
	}

	switch taskType {
	case "RETRIEVAL_QUERY", "SEMANTIC_SIMILARITY", "RETRIEVAL_DOCUMENT":
	default:
		taskType = "RETRIEVAL_DOCUMENT"
	}

	return &GenAIProvider{client: client, model: model, taskType: taskType}, nil
}

func (p *GenAIProvider) Name() string { return "gemini/" + p.model }

// EmbedBatch embeds up to the provider's native batch limit in one call.
func (p *GenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents,
		&genai.EmbedContentConfig{TaskType: p.taskType})
	if err != nil {
		return nil, common.ClassifyProvider(err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, common.Ef(common.KindProviderContract,
			"provider returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
