package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/common"
)

type fakeLLM struct {
	response string
	err      error
	lastReq  Request
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Generate(ctx context.Context, req Request) (*Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: f.response, Model: req.Model}, nil
}

func TestRouteModel(t *testing.T) {
	assert.Equal(t, ModelFast, RouteModel(ComplexitySimple, false))
	assert.Equal(t, ModelStandard, RouteModel(ComplexityModerate, false))
	assert.Equal(t, ModelHeavy, RouteModel(ComplexityComplex, false))
}

func TestRouteModelEscalation(t *testing.T) {
	assert.Equal(t, ModelStandard, RouteModel(ComplexitySimple, true))
	assert.Equal(t, ModelHeavy, RouteModel(ComplexityModerate, true))
	// Already at the top tier.
	assert.Equal(t, ModelHeavy, RouteModel(ComplexityComplex, true))
}

func TestDecodeJSONClean(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, DecodeJSON(`{"intent": "lookup"}`, &out))
	assert.Equal(t, "lookup", out.Intent)
}

func TestDecodeJSONMarkdownFences(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	raw := "```json\n{\"intent\": \"analysis\"}\n```"
	require.NoError(t, DecodeJSON(raw, &out))
	assert.Equal(t, "analysis", out.Intent)
}

func TestDecodeJSONRepairsTruncation(t *testing.T) {
	var out struct {
		Items []string `json:"items"`
	}
	// Missing closing bracket and brace, as truncated model output often is.
	require.NoError(t, DecodeJSON(`{"items": ["a", "b"`, &out))
	assert.Equal(t, []string{"a", "b"}, out.Items)
}

func TestRerankOrdersByModelOutput(t *testing.T) {
	f := &fakeLLM{response: `{"ranking": [2, 0, 1]}`}
	r := NewReranker(f, "")

	ranking, err := r.Rerank(context.Background(), "revenue growth",
		[]string{"passage a", "passage b", "passage c"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, ranking)
	assert.True(t, f.lastReq.JSONMode)
}

func TestRerankSanitizesBadIndices(t *testing.T) {
	f := &fakeLLM{response: `{"ranking": [5, 1, 1, -2]}`}
	r := NewReranker(f, "")

	ranking, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2}, ranking)
}

func TestRerankDegradesOnProviderFailure(t *testing.T) {
	f := &fakeLLM{err: common.E(common.KindProviderUnavailable, "down")}
	r := NewReranker(f, "")

	ranking, err := r.Rerank(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, common.KindDegradedKnowledge, common.KindOf(err))
	assert.Equal(t, []int{0, 1}, ranking, "degraded rerank keeps retrieval order")
}

func TestRerankSingleCandidate(t *testing.T) {
	f := &fakeLLM{}
	r := NewReranker(f, "")
	ranking, err := r.Rerank(context.Background(), "q", []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ranking)
	assert.Empty(t, f.lastReq.Model, "no model call for a single candidate")
}
