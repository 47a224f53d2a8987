package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/parse"
)

func TestAssembleContextNumbersAndCites(t *testing.T) {
	passages := []Passage{
		{Body: "Revenue was $12.4M in FY2023.", Citation: "cim.pdf (page 12)"},
		{Body: "EBITDA margin was 23%.", Citation: "model.xlsx (sheet P&L B4)"},
	}

	kept, block := AssembleContext(passages, ContextTokenBudget)
	require.Len(t, kept, 2)
	assert.Contains(t, block, "[1] Revenue was $12.4M in FY2023.")
	assert.Contains(t, block, "Source: cim.pdf (page 12)")
	assert.Contains(t, block, "[2] EBITDA margin was 23%.")
}

func TestAssembleContextRespectsBudget(t *testing.T) {
	big := strings.Repeat("word ", 900) // ~900 tokens per passage
	passages := []Passage{
		{Body: big, Citation: "a.pdf"},
		{Body: big, Citation: "b.pdf"},
		{Body: big, Citation: "c.pdf"},
	}

	kept, block := AssembleContext(passages, ContextTokenBudget)
	// Three 900-token passages cannot fit a 2000 token budget.
	assert.Less(t, len(kept), 3)
	assert.LessOrEqual(t, parse.EstimateTokens(block), ContextTokenBudget+50)
	// Least relevant passages are the ones dropped.
	assert.Contains(t, block, "a.pdf")
	assert.NotContains(t, block, "c.pdf")
}

func TestAssembleContextNeverReturnsEmptyOnMatch(t *testing.T) {
	huge := strings.Repeat("alpha beta ", 5000)
	kept, block := AssembleContext([]Passage{{Body: huge, Citation: "big.pdf"}}, ContextTokenBudget)
	require.Len(t, kept, 1)
	assert.NotEmpty(t, block)
	assert.Less(t, len(kept[0].Body), len(huge))
}

func TestAssembleContextEmptyInput(t *testing.T) {
	kept, block := AssembleContext(nil, ContextTokenBudget)
	assert.Empty(t, kept)
	assert.Empty(t, block)
}

func TestCitationFallbacks(t *testing.T) {
	assert.Equal(t, "cim.pdf (page 3)", citationOrFallback(Passage{Citation: "cim.pdf (page 3)"}))
	assert.Equal(t, "document doc-1", citationOrFallback(Passage{DocumentID: "doc-1"}))
	assert.Equal(t, "knowledge graph", citationOrFallback(Passage{}))
}

func TestQueryHashNormalizesCase(t *testing.T) {
	assert.Equal(t, queryHash("What is revenue?", 10), queryHash("what is REVENUE?", 10))
	assert.NotEqual(t, queryHash("revenue", 10), queryHash("revenue", 5))
	assert.NotEqual(t, queryHash("revenue", 10), queryHash("ebitda", 10))
}
