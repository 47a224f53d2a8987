package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/parse"
	"dealgraph.org/queue"
)

type fakeDocs struct {
	repository.DocumentRepository
	doc            *db.Document
	chunks         []db.DocumentChunk
	recordedErrors []map[string]interface{}
	statusUpdates  []string
	reliability    string
	parseNotes     map[string]interface{}
}

func (f *fakeDocs) GetDocument(ctx context.Context, scope repository.Scope, documentID string) (*db.Document, error) {
	return f.doc, nil
}

func (f *fakeDocs) ListChunks(ctx context.Context, documentID string) ([]db.DocumentChunk, error) {
	return f.chunks, nil
}

func (f *fakeDocs) RecordError(ctx context.Context, documentID string, procErr map[string]interface{}) error {
	f.recordedErrors = append(f.recordedErrors, procErr)
	return nil
}

func (f *fakeDocs) UpdateStatus(ctx context.Context, documentID, status, stage string) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeDocs) SetReliability(ctx context.Context, scope repository.Scope, documentID, reliability string) error {
	f.reliability = reliability
	return nil
}

func (f *fakeDocs) SetParseNotes(ctx context.Context, documentID string, notes map[string]interface{}) error {
	f.parseNotes = notes
	return nil
}

type fakeFindings struct {
	repository.FindingRepository
	sourceErrors int64
	flagged      int64
	flagCalls    int
}

func (f *fakeFindings) CountSourceErrors(ctx context.Context, documentID string) (int64, error) {
	return f.sourceErrors, nil
}

func (f *fakeFindings) FlagSiblings(ctx context.Context, documentID, exceptFindingID, reason string) (int64, error) {
	f.flagCalls++
	return f.flagged, nil
}

type fakeFlags struct {
	repository.FlagRepository
	enabled map[string]bool
}

func (f *fakeFlags) IsEnabled(ctx context.Context, name string) bool {
	return f.enabled[name]
}

func newFailTestOrchestrator(docs *fakeDocs, findings *fakeFindings, flags *fakeFlags) *Orchestrator {
	return &Orchestrator{
		store: &repository.Store{
			Documents: docs,
			Findings:  findings,
			Flags:     flags,
		},
		fanout: queue.NopStatusPublisher{},
	}
}

func TestFailDocumentKeepsStatusWhileRetryable(t *testing.T) {
	docs := &fakeDocs{}
	o := newFailTestOrchestrator(docs, &fakeFindings{}, &fakeFlags{})
	job := &queue.Job{Attempt: 1, MaxAttempts: 3}
	p := documentJob{DocumentID: "doc-1", DealID: "deal-1", OrgID: "org-1"}

	o.failDocument(context.Background(), job, p, common.E(common.KindTransientIO, "blob store hiccup"), db.StatusFailed)

	require.Len(t, docs.recordedErrors, 1)
	assert.Empty(t, docs.statusUpdates, "a retryable failure with attempts left must not mark the document failed")
}

func TestFailDocumentMarksFailedOnLastAttempt(t *testing.T) {
	docs := &fakeDocs{}
	o := newFailTestOrchestrator(docs, &fakeFindings{}, &fakeFlags{})
	job := &queue.Job{Attempt: 3, MaxAttempts: 3}
	p := documentJob{DocumentID: "doc-1", DealID: "deal-1", OrgID: "org-1"}

	o.failDocument(context.Background(), job, p, common.E(common.KindTransientIO, "blob store hiccup"), db.StatusFailed)

	require.Len(t, docs.statusUpdates, 1)
	assert.Equal(t, db.StatusFailed, docs.statusUpdates[0])
}

func TestFailDocumentMarksFailedOnTerminalError(t *testing.T) {
	docs := &fakeDocs{}
	o := newFailTestOrchestrator(docs, &fakeFindings{}, &fakeFlags{})
	job := &queue.Job{Attempt: 1, MaxAttempts: 3}
	p := documentJob{DocumentID: "doc-1", DealID: "deal-1", OrgID: "org-1"}

	o.failDocument(context.Background(), job, p, common.E(common.KindParseError, "unsupported format"), db.StatusAnalysisFailed)

	require.Len(t, docs.statusUpdates, 1)
	assert.Equal(t, db.StatusAnalysisFailed, docs.statusUpdates[0])
}

func TestSourceErrorCascadeSingleCorrection(t *testing.T) {
	docs := &fakeDocs{doc: &db.Document{ID: "doc-1", DealID: "deal-1"}}
	findings := &fakeFindings{sourceErrors: 1, flagged: 4}
	flags := &fakeFlags{enabled: map[string]bool{
		FlagSourceErrorCascade: true,
		FlagAutoFlagFindings:   true,
	}}
	o := newFailTestOrchestrator(docs, findings, flags)

	flagged, err := o.EvaluateSourceErrors(context.Background(),
		repository.Scope{OrgID: "org-1"}, "doc-1", "finding-1")
	require.NoError(t, err)

	assert.Equal(t, db.ReliabilityContainsErrors, docs.reliability,
		"one confirmed source error must downgrade the document")
	assert.Equal(t, 1, findings.flagCalls)
	assert.Equal(t, int64(4), flagged)
}

func TestSourceErrorCascadeDisabledByFlag(t *testing.T) {
	docs := &fakeDocs{doc: &db.Document{ID: "doc-1", DealID: "deal-1"}}
	findings := &fakeFindings{sourceErrors: 2}
	o := newFailTestOrchestrator(docs, findings, &fakeFlags{enabled: map[string]bool{}})

	flagged, err := o.EvaluateSourceErrors(context.Background(),
		repository.Scope{OrgID: "org-1"}, "doc-1", "finding-1")
	require.NoError(t, err)

	assert.Zero(t, flagged)
	assert.Empty(t, docs.reliability)
	assert.Zero(t, findings.flagCalls)
}

func TestSourceErrorCascadeWithoutAutoFlag(t *testing.T) {
	docs := &fakeDocs{doc: &db.Document{ID: "doc-1", DealID: "deal-1"}}
	findings := &fakeFindings{sourceErrors: 1, flagged: 4}
	flags := &fakeFlags{enabled: map[string]bool{FlagSourceErrorCascade: true}}
	o := newFailTestOrchestrator(docs, findings, flags)

	flagged, err := o.EvaluateSourceErrors(context.Background(),
		repository.Scope{OrgID: "org-1"}, "doc-1", "finding-1")
	require.NoError(t, err)

	assert.Equal(t, db.ReliabilityContainsErrors, docs.reliability)
	assert.Zero(t, findings.flagCalls,
		"sibling review flips are gated by their own flag")
	assert.Zero(t, flagged)
}

func TestSourceErrorCascadeNoConfirmedErrors(t *testing.T) {
	docs := &fakeDocs{doc: &db.Document{ID: "doc-1", DealID: "deal-1"}}
	flags := &fakeFlags{enabled: map[string]bool{
		FlagSourceErrorCascade: true,
		FlagAutoFlagFindings:   true,
	}}
	o := newFailTestOrchestrator(docs, &fakeFindings{sourceErrors: 0}, flags)

	flagged, err := o.EvaluateSourceErrors(context.Background(),
		repository.Scope{OrgID: "org-1"}, "doc-1", "finding-1")
	require.NoError(t, err)
	assert.Zero(t, flagged)
	assert.Empty(t, docs.reliability)
}

func TestParseNotesDistillsCaveats(t *testing.T) {
	assert.Nil(t, parseNotes(&parse.Result{Chunks: []parse.Chunk{{Content: "clean"}}}))

	notes := parseNotes(&parse.Result{
		SkippedPages:  []int{3, 7},
		SkippedSheets: []string{"Old Model"},
		Chunks:        []parse.Chunk{{Content: "scanned", OCRProcessed: true}},
	})
	require.NotNil(t, notes)
	assert.Equal(t, []int{3, 7}, notes["skipped_pages"])
	assert.Equal(t, []string{"Old Model"}, notes["skipped_sheets"])
	assert.Equal(t, true, notes["ocr_used"])
}
