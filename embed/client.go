package embed

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"dealgraph.org/common"
	"dealgraph.org/config"
)

// UsageRecorder receives one record per provider call. Implemented by the
// usage package; nil disables recording.
type UsageRecorder interface {
	RecordEmbedding(ctx context.Context, provider string, inputs, estTokens int, latency time.Duration, callErr error)
}

// Client batches embedding work and falls back to a secondary provider when
// the primary is down or rate limited.
type Client struct {
	primary   Provider
	fallback  Provider
	batchSize int
	limiter   *rate.Limiter
	usage     UsageRecorder
}

// NewClient assembles the embedding client from configuration.
func NewClient(cfg config.EmbedConfig, primary, fallback Provider, usage UsageRecorder) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}
	qps := cfg.RateLimitQPS
	if qps <= 0 {
		qps = 10
	}
	return &Client{
		primary:   primary,
		fallback:  fallback,
		batchSize: batch,
		limiter:   rate.NewLimiter(rate.Limit(qps), batch),
		usage:     usage,
	}
}

// EmbedDocuments embeds chunk texts in provider-sized batches. Order is
// preserved: result[i] corresponds to texts[i].
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedWithFallback(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.embedWithFallback(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedWithFallback(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, common.Wrap(common.KindTimeout, "embedding rate wait cancelled", err)
	}

	vectors, err := c.callProvider(ctx, c.primary, texts)
	if err == nil {
		return vectors, nil
	}

	// Only provider-side failures justify the fallback; validation or
	// contract errors would fail there identically.
	kind := common.KindOf(err)
	if c.fallback == nil || (kind != common.KindProviderRateLimited &&
		kind != common.KindProviderUnavailable && kind != common.KindTimeout) {
		return nil, err
	}

	common.Logger.WithError(err).WithField("provider", c.primary.Name()).
		Warn("primary embedding provider failed, using fallback")
	vectors, ferr := c.callProvider(ctx, c.fallback, texts)
	if ferr != nil {
		// Report the primary failure; it is the one to alert on.
		return nil, err
	}
	return vectors, nil
}

func (c *Client) callProvider(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	estTokens := 0
	for _, t := range texts {
		estTokens += len(t) / 4
	}

	start := time.Now()
	vectors, err := p.EmbedBatch(ctx, texts)
	latency := time.Since(start)

	if c.usage != nil {
		c.usage.RecordEmbedding(ctx, p.Name(), len(texts), estTokens, latency, err)
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, common.Ef(common.KindProviderContract,
			"embedding count mismatch: got %d want %d", len(vectors), len(texts))
	}
	return vectors, nil
}
