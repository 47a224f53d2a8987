package llm

import (
	"context"
	"time"

	"google.golang.org/genai"

	"dealgraph.org/common"
)

// GeminiProvider calls the Gemini API through the official SDK.
type GeminiProvider struct {
	client      *genai.Client
	callTimeout time.Duration
}

// NewGeminiProvider creates the provider with one long-lived client.
func NewGeminiProvider(ctx context.Context, apiKey string, callTimeout time.Duration) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, common.E(common.KindValidation, "llm api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, common.Wrap(common.KindProviderUnavailable, "failed to create genai client", err)
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &GeminiProvider{client: client, callTimeout: callTimeout}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Generate runs one model call under the configured deadline.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, common.E(common.KindValidation, "model is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	start := time.Now()
	result, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, common.E(common.KindTimeout, "model call timed out")
		}
		return nil, common.ClassifyProvider(err)
	}

	text := result.Text()
	if text == "" {
		return nil, common.E(common.KindProviderContract, "model returned empty response")
	}

	resp := &Response{Text: text, Model: req.Model, Latency: latency}
	if result.UsageMetadata != nil {
		resp.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}
