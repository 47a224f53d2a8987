package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/db/repository"
)

type fakeIndexer struct {
	dealID string
	facts  []string
}

func (f *fakeIndexer) IndexEpisode(ctx context.Context, scope repository.Scope, dealID, fact string) (string, error) {
	f.dealID = dealID
	f.facts = append(f.facts, fact)
	return "job-42", nil
}

func TestIndexToKnowledgeBaseTool(t *testing.T) {
	tb := NewToolbox(nil)
	indexer := &fakeIndexer{}
	RegisterDealTools(tb, &repository.Store{}, nil, indexer)

	result := tb.Invoke(context.Background(), ToolContext{
		Scope:  repository.Scope{OrgID: "org-1", UserID: "user-1"},
		DealID: "deal-1",
	}, "index_to_knowledge_base",
		json.RawMessage(`{"fact": "FY2023 revenue was $13.1M, not $12.4M as the CIM states."}`),
		TierBasic)

	require.Empty(t, result.Err)
	assert.Contains(t, result.Preview, "job-42")
	assert.Equal(t, "deal-1", indexer.dealID)
	require.Len(t, indexer.facts, 1)
	assert.Contains(t, indexer.facts[0], "$13.1M")
}

func TestIndexToKnowledgeBaseToolUnwired(t *testing.T) {
	tb := NewToolbox(nil)
	RegisterDealTools(tb, &repository.Store{}, nil, nil)

	result := tb.Invoke(context.Background(), ToolContext{DealID: "deal-1"},
		"index_to_knowledge_base", json.RawMessage(`{"fact": "anything"}`), TierBasic)
	assert.NotEmpty(t, result.Err)
}
