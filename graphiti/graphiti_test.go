package graphiti

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrateConfidenceBySource(t *testing.T) {
	assert.Equal(t, 0.95, CalibrateConfidence(SourceAnalystChat))
	assert.Equal(t, 0.85, CalibrateConfidence(SourceDocument))
	assert.Equal(t, 0.80, CalibrateConfidence(SourceContradiction))
	assert.Equal(t, 0.80, CalibrateConfidence("something else"))
}

func TestRequireGroup(t *testing.T) {
	assert.NoError(t, requireGroup("org-1:deal-1"))
	assert.Error(t, requireGroup(""))
	assert.Error(t, requireGroup("org-1"))
	assert.Error(t, requireGroup(":deal-1"))
	assert.Error(t, requireGroup("org-1:"))
}

func TestFuseRRFRanksConsensusFirst(t *testing.T) {
	legs := map[string][]SearchResult{
		LegVector: {
			{EpisodeUUID: "e1", Body: "one"},
			{EpisodeUUID: "e2", Body: "two"},
		},
		LegFulltext: {
			{EpisodeUUID: "e2", Body: "two"},
			{EpisodeUUID: "e3", Body: "three"},
		},
		LegGraph: {
			{EpisodeUUID: "e2", Body: "two"},
		},
	}

	fused := fuseRRF(legs, 10)
	require.Len(t, fused, 3)
	// e2 appears in all three legs and must rank first.
	assert.Equal(t, "e2", fused[0].EpisodeUUID)
	assert.ElementsMatch(t, []string{LegVector, LegFulltext, LegGraph}, fused[0].Legs)
	assert.Greater(t, fused[0].Score, fused[1].Score)
}

func TestFuseRRFTruncatesToLimit(t *testing.T) {
	legs := map[string][]SearchResult{
		LegVector: {
			{EpisodeUUID: "a"}, {EpisodeUUID: "b"}, {EpisodeUUID: "c"}, {EpisodeUUID: "d"},
		},
	}
	fused := fuseRRF(legs, 2)
	assert.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].EpisodeUUID)
}

func TestFuseRRFDeterministicTieBreak(t *testing.T) {
	legs := map[string][]SearchResult{
		LegVector:   {{EpisodeUUID: "z"}},
		LegFulltext: {{EpisodeUUID: "a"}},
	}
	fused := fuseRRF(legs, 10)
	require.Len(t, fused, 2)
	// Equal scores break on uuid so repeated searches return stable order.
	assert.Equal(t, "a", fused[0].EpisodeUUID)
	assert.Equal(t, "z", fused[1].EpisodeUUID)
}

func TestEscapeLucene(t *testing.T) {
	assert.Equal(t, `revenue`, escapeLucene("revenue"))
	assert.Equal(t, `what\? \(EBITDA\)`, escapeLucene("what? (EBITDA)"))
	assert.Equal(t, `a\:b`, escapeLucene("a:b"))
}
