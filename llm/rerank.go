package llm

import (
	"context"
	"fmt"
	"strings"

	"dealgraph.org/common"
)

// Reranker reorders retrieval candidates by listwise relevance judgment.
type Reranker struct {
	provider Provider
	model    string
}

// NewReranker creates a reranker on the given provider.
func NewReranker(provider Provider, model string) *Reranker {
	if model == "" {
		model = ModelRerank
	}
	return &Reranker{provider: provider, model: model}
}

const rerankSystem = `You rank document passages by relevance to a query.
Respond with JSON only: {"ranking": [indices from most to least relevant]}.
Include every index exactly once.`

// Rerank returns candidate indices ordered most-relevant-first. On any
// provider failure the original order is returned with a DegradedKnowledge
// error; callers decide whether degraded order is acceptable.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	identity := make([]int, len(candidates))
	for i := range identity {
		identity[i] = i
	}
	if len(candidates) <= 1 {
		return identity, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n\nPassages:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&prompt, "[%d] %s\n\n", i, common.Truncate(c, 600))
	}

	resp, err := r.provider.Generate(ctx, Request{
		Model:       r.model,
		System:      rerankSystem,
		Messages:    []Message{{Role: "user", Content: prompt.String()}},
		JSONMode:    true,
		Temperature: 0,
	})
	if err != nil {
		return identity, common.Wrap(common.KindDegradedKnowledge, "rerank unavailable, using retrieval order", err)
	}

	var parsed struct {
		Ranking []int `json:"ranking"`
	}
	if err := DecodeJSON(resp.Text, &parsed); err != nil {
		return identity, common.Wrap(common.KindDegradedKnowledge, "rerank output unusable, using retrieval order", err)
	}

	ranking := sanitizeRanking(parsed.Ranking, len(candidates))
	return ranking, nil
}

// sanitizeRanking drops out-of-range and duplicate indices and appends any
// the model forgot, preserving its order for the rest.
func sanitizeRanking(ranking []int, n int) []int {
	seen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for _, idx := range ranking {
		if idx >= 0 && idx < n && !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}
