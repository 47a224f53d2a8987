package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/common"
	"dealgraph.org/db"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []string{
		db.StatusPending, db.StatusParsing, db.StatusParsed,
		db.StatusGraphitiIngesting, db.StatusGraphitiIngested,
		db.StatusAnalyzing, db.StatusAnalyzed, db.StatusComplete,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]),
			"%s -> %s should be legal", path[i], path[i+1])
	}
}

func TestCanTransitionRejectsRegression(t *testing.T) {
	assert.False(t, CanTransition(db.StatusComplete, db.StatusParsing))
	assert.False(t, CanTransition(db.StatusAnalyzed, db.StatusParsing))
	assert.False(t, CanTransition(db.StatusParsing, db.StatusAnalyzing))
	assert.False(t, CanTransition(db.StatusPending, db.StatusComplete))
}

func TestCanTransitionAllowsRetryReentry(t *testing.T) {
	assert.True(t, CanTransition(db.StatusFailed, db.StatusParsing))
	assert.True(t, CanTransition(db.StatusFailed, db.StatusGraphitiIngesting))
	assert.True(t, CanTransition(db.StatusFailed, db.StatusAnalyzing))
	assert.True(t, CanTransition(db.StatusAnalysisFailed, db.StatusAnalyzing))
}

// A job that dies mid-stage leaves the document in the in-progress status, so
// the queue retry re-enters the same stage against that status.
func TestCanTransitionAllowsInProgressReentry(t *testing.T) {
	assert.True(t, CanTransition(db.StatusParsing, db.StatusParsing))
	assert.True(t, CanTransition(db.StatusGraphitiIngesting, db.StatusGraphitiIngesting))
	assert.True(t, CanTransition(db.StatusAnalyzing, db.StatusAnalyzing))
}

func TestResumeJobKind(t *testing.T) {
	kind, err := ResumeJobKind("")
	require.NoError(t, err)
	assert.Equal(t, JobParseDocument, kind)

	kind, err = ResumeJobKind(db.StageParsed)
	require.NoError(t, err)
	assert.Equal(t, JobGraphitiIngest, kind)

	kind, err = ResumeJobKind(db.StageGraphitiIngested)
	require.NoError(t, err)
	assert.Equal(t, JobAnalyzeDocument, kind)
}

func TestResumeJobKindRejectsCompletedDocument(t *testing.T) {
	_, err := ResumeJobKind(db.StageComplete)
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	_, err = ResumeJobKind(db.StageAnalyzed)
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(db.StatusComplete))
	assert.True(t, IsTerminalStatus(db.StatusFailed))
	assert.True(t, IsTerminalStatus(db.StatusAnalysisFailed))
	assert.False(t, IsTerminalStatus(db.StatusParsing))
	assert.False(t, IsTerminalStatus(db.StatusAnalyzed))
}
