package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/common"
	"dealgraph.org/config"
)

// fakeProvider returns fixed-dimension vectors and records batch sizes.
type fakeProvider struct {
	name    string
	batches [][]string
	err     error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1.0}
	}
	return out, nil
}

type recordedUsage struct {
	provider string
	inputs   int
	failed   bool
}

type fakeRecorder struct {
	records []recordedUsage
}

func (f *fakeRecorder) RecordEmbedding(ctx context.Context, provider string, inputs, estTokens int, latency time.Duration, callErr error) {
	f.records = append(f.records, recordedUsage{provider: provider, inputs: inputs, failed: callErr != nil})
}

func testConfig(batch int) config.EmbedConfig {
	return config.EmbedConfig{BatchSize: batch, RateLimitQPS: 1000}
}

func TestEmbedDocumentsBatches(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	c := NewClient(testConfig(64), p, nil, nil)

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = "chunk"
	}
	vectors, err := c.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 150)

	require.Len(t, p.batches, 3)
	assert.Len(t, p.batches[0], 64)
	assert.Len(t, p.batches[1], 64)
	assert.Len(t, p.batches[2], 22)
}

func TestEmbedFallbackOnProviderFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: common.E(common.KindProviderUnavailable, "down")}
	fallback := &fakeProvider{name: "fallback"}
	rec := &fakeRecorder{}
	c := NewClient(testConfig(8), primary, fallback, rec)

	vectors, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Len(t, fallback.batches, 1)

	// Both the failed primary call and the fallback call are recorded.
	require.Len(t, rec.records, 2)
	assert.True(t, rec.records[0].failed)
	assert.Equal(t, "primary", rec.records[0].provider)
	assert.False(t, rec.records[1].failed)
	assert.Equal(t, "fallback", rec.records[1].provider)
}

func TestEmbedNoFallbackOnContractError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: common.E(common.KindProviderContract, "bad shape")}
	fallback := &fakeProvider{name: "fallback"}
	c := NewClient(testConfig(8), primary, fallback, nil)

	_, err := c.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, common.KindProviderContract, common.KindOf(err))
	assert.Empty(t, fallback.batches, "contract errors must not hit the fallback")
}

func TestEmbedBothProvidersDownReportsPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: common.E(common.KindProviderRateLimited, "slow down")}
	fallback := &fakeProvider{name: "fallback", err: common.E(common.KindProviderUnavailable, "also down")}
	c := NewClient(testConfig(8), primary, fallback, nil)

	_, err := c.EmbedQuery(context.Background(), "what is revenue")
	require.Error(t, err)
	assert.Equal(t, common.KindProviderRateLimited, common.KindOf(err))
}

func TestEmbedEmptyInput(t *testing.T) {
	p := &fakeProvider{name: "primary"}
	c := NewClient(testConfig(8), p, nil, nil)
	vectors, err := c.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Empty(t, p.batches)
}
