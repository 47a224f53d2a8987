package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/cache"
	"dealgraph.org/llm"
)

type stubProvider struct {
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.response, Model: req.Model}, nil
}

func TestClassifyHeuristicShortCircuits(t *testing.T) {
	provider := &stubProvider{}
	c := NewClassifier(provider, nil)

	cls := c.Classify(context.Background(), "org:deal", "What was revenue in FY2023?")
	assert.Equal(t, IntentFinancial, cls.Intent)
	assert.True(t, cls.NeedsTools)
	assert.Zero(t, provider.calls, "heuristic match must not call the model")

	cls = c.Classify(context.Background(), "org:deal", "hello")
	assert.Equal(t, IntentGeneral, cls.Intent)
	assert.False(t, cls.NeedsTools)

	cls = c.Classify(context.Background(), "org:deal", "Show the ownership timeline of the subsidiaries")
	assert.Equal(t, IntentGraph, cls.Intent)
}

func TestClassifyModelPathAndMemoization(t *testing.T) {
	provider := &stubProvider{response: `{"intent": "drafting", "complexity": "complex", "needs_tools": false}`}
	c := NewClassifier(provider, cache.NewWithClient(nil))

	query := "Prepare the management presentation outline"
	cls := c.Classify(context.Background(), "org:deal", query)
	require.Equal(t, 1, provider.calls)
	assert.Equal(t, IntentDrafting, cls.Intent)
	assert.Equal(t, llm.ComplexityComplex, cls.Complexity)
	assert.False(t, cls.NeedsTools)

	// Second identical query is served from the classifier cache.
	again := c.Classify(context.Background(), "org:deal", query)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, cls, again)
}

func TestClassifyDegradesToDefaultOnProviderFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider down")}
	c := NewClassifier(provider, nil)

	cls := c.Classify(context.Background(), "org:deal", "Unusual question with no keywords")
	assert.Equal(t, IntentGeneral, cls.Intent)
	assert.Equal(t, llm.ComplexityModerate, cls.Complexity)
	assert.True(t, cls.NeedsTools)
}

func TestNormalizeEnums(t *testing.T) {
	assert.Equal(t, IntentGeneral, normalizeIntent("banana"))
	assert.Equal(t, IntentFinancial, normalizeIntent("financial"))
	assert.Equal(t, llm.ComplexityModerate, normalizeComplexity("extreme"))
	assert.Equal(t, llm.ComplexitySimple, normalizeComplexity("simple"))
}
