package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/db"
	"dealgraph.org/graphiti"
	"dealgraph.org/llm"
	"dealgraph.org/parse"
)

type scriptedProvider struct {
	response string
	err      error
	lastReq  llm.Request
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.response, Model: req.Model}, nil
}

func TestExtractGraphDecodesEntitiesAndFacts(t *testing.T) {
	provider := &scriptedProvider{response: `{
		"entities": [
			{"name": "Acme Corp", "summary": "target company", "labels": ["Company"]},
			{"name": "", "summary": "dropped"}
		],
		"facts": [
			{"subject": "Acme Corp", "object": "$12.4M", "predicate": "has_revenue",
			 "fact": "Acme Corp reported revenue of $12.4M in FY2023.",
			 "method": "explicit", "valid_at": "2023-12-31T00:00:00Z"},
			{"subject": "", "object": "x", "predicate": "BROKEN"}
		]
	}`}

	ext, err := extractGraph(context.Background(), provider, "Acme Corp reported revenue of $12.4M.")
	require.NoError(t, err)

	require.Len(t, ext.Entities, 1)
	assert.Equal(t, "Acme Corp", ext.Entities[0].Name)

	require.Len(t, ext.Facts, 1)
	assert.Equal(t, "HAS_REVENUE", ext.Facts[0].Predicate)
	assert.Equal(t, graphiti.MethodExplicit, ext.Facts[0].Method)
	assert.Equal(t, 2023, ext.Facts[0].ValidAt.Year())

	assert.Equal(t, llm.ModelExtraction, provider.lastReq.Model)
	assert.True(t, provider.lastReq.JSONMode)
}

func TestExtractGraphRepairsTruncatedJSON(t *testing.T) {
	// Model output cut off mid-object; the JSON repair path should recover
	// the complete entries.
	provider := &scriptedProvider{response: `{"entities": [{"name": "Acme Corp", "summary": "target"}], "facts": [`}

	ext, err := extractGraph(context.Background(), provider, "chunk")
	require.NoError(t, err)
	require.Len(t, ext.Entities, 1)
	assert.Empty(t, ext.Facts)
}

func TestExtractFindingsMapsPagesToChunks(t *testing.T) {
	provider := &scriptedProvider{response: `{
		"findings": [
			{"text": "Revenue grew 40% year over year.", "type": "metric",
			 "domain": "financial", "confidence": 0.9, "page": 3},
			{"text": "   ", "type": "fact"}
		]
	}`}

	page := 3
	doc := &db.Document{ID: "doc-1", DealID: "deal-1", Name: "cim.pdf"}
	chunks := []db.DocumentChunk{
		{ID: "chunk-3", DocumentID: "doc-1", ChunkIndex: 0, Content: "...", PageNumber: &page},
	}

	findings, err := extractFindings(context.Background(), provider, doc, chunks)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "deal-1", f.DealID)
	assert.Equal(t, "doc-1", *f.DocumentID)
	assert.Equal(t, "chunk-3", *f.ChunkID)
	assert.Equal(t, "metric", f.FindingType)
	assert.Equal(t, "cim.pdf", f.SourceDocument)
	assert.InDelta(t, 0.9, f.Confidence, 1e-9)
}

func TestExtractFindingsNormalizesUnknownEnums(t *testing.T) {
	provider := &scriptedProvider{response: `{
		"findings": [{"text": "Something odd.", "type": "speculation", "domain": "astrology", "confidence": 1.7}]
	}`}

	findings, err := extractFindings(context.Background(), provider, &db.Document{ID: "d", DealID: "deal"}, []db.DocumentChunk{{ID: "c", Content: "x"}})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "fact", findings[0].FindingType)
	assert.Equal(t, "financial", findings[0].Domain)
	assert.Equal(t, 1.0, findings[0].Confidence)
}

func TestExtractFindingsEmptyChunks(t *testing.T) {
	findings, err := extractFindings(context.Background(), &scriptedProvider{}, &db.Document{}, nil)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestMetricsFromCandidates(t *testing.T) {
	metrics := metricsFromCandidates("doc-1", []parse.MetricCandidate{
		{Name: "Revenue", Value: 12.4e6, Sheet: "P&L", CellRef: "B2"},
		{Name: "EBITDA", Value: 2.5e6, Sheet: "P&L", CellRef: "B3", Formula: "B2*0.2"},
	})
	require.Len(t, metrics, 2)

	assert.Equal(t, "doc-1", metrics[0].DocumentID)
	assert.True(t, metrics[0].IsActual)
	// Formula-derived cells are not actuals.
	assert.False(t, metrics[1].IsActual)
	assert.Equal(t, "B2*0.2", metrics[1].SourceFormula)
}
