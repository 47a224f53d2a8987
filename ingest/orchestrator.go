package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/embed"
	"dealgraph.org/graphiti"
	"dealgraph.org/llm"
	"dealgraph.org/parse"
	"dealgraph.org/queue"
	"dealgraph.org/storage"
)

// Cascade feature flags, both off by default. FlagSourceErrorCascade gates
// the document reliability downgrade and graph retraction after a confirmed
// source error; FlagAutoFlagFindings additionally flips the document's
// unvalidated sibling findings to needs_review.
const (
	FlagSourceErrorCascade = "sourceErrorCascadeEnabled"
	FlagAutoFlagFindings   = "autoFlagDocumentFindings"
)

// analysisBatchChunks bounds how many chunks go into one findings extraction
// call so the prompt stays inside the model context.
const analysisBatchChunks = 12

// Orchestrator owns the ingestion pipeline: it enqueues stage jobs, runs them,
// and keeps document status consistent with what actually happened.
type Orchestrator struct {
	store    *repository.Store
	queue    *queue.JobQueue
	blobs    *storage.BlobStore
	parser   *parse.Parser
	embedder *embed.Client
	graph    *graphiti.GraphStore
	llm      llm.Provider
	fanout   queue.StatusPublisher
}

// NewOrchestrator wires the pipeline dependencies.
func NewOrchestrator(store *repository.Store, q *queue.JobQueue, blobs *storage.BlobStore,
	parser *parse.Parser, embedder *embed.Client, graph *graphiti.GraphStore,
	provider llm.Provider, fanout queue.StatusPublisher) *Orchestrator {
	if fanout == nil {
		fanout = queue.NopStatusPublisher{}
	}
	return &Orchestrator{
		store: store, queue: q, blobs: blobs, parser: parser,
		embedder: embedder, graph: graph, llm: provider, fanout: fanout,
	}
}

// documentJob is the payload shared by all per-document stage jobs. OrgID
// travels with the job so handlers reconstruct the tenant scope without a
// lookup.
type documentJob struct {
	DocumentID string `json:"document_id"`
	DealID     string `json:"deal_id"`
	OrgID      string `json:"org_id"`
}

// episodeJob carries one analyst assertion into the index_episode job.
type episodeJob struct {
	OrgID  string `json:"org_id"`
	DealID string `json:"deal_id"`
	UserID string `json:"user_id"`
	Fact   string `json:"fact"`
}

// StartIngestion enqueues the parse job for a freshly uploaded document. The
// singleton key collapses duplicate upload callbacks into one pipeline run;
// a collision returns the existing job id alongside queue.ErrDuplicate so the
// caller can report the conflict instead of pretending a new run started.
func (o *Orchestrator) StartIngestion(ctx context.Context, scope repository.Scope, doc *db.Document) (string, error) {
	jobID, err := o.queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:         JobParseDocument,
		Payload:      documentJob{DocumentID: doc.ID, DealID: doc.DealID, OrgID: scope.OrgID},
		SingletonKey: doc.ID,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		common.Logger.WithField("document_id", doc.ID).Info("ingestion already queued")
		return jobID, err
	}
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// RetryDocument re-enqueues processing for a failed document, resuming from
// the last durably completed stage. Completed documents return a conflict.
func (o *Orchestrator) RetryDocument(ctx context.Context, scope repository.Scope, documentID string) (string, error) {
	doc, err := o.store.Documents.GetDocument(ctx, scope, documentID)
	if err != nil {
		return "", err
	}

	kind, err := ResumeJobKind(doc.LastCompletedStage)
	if err != nil {
		return "", err
	}

	entry := map[string]interface{}{
		"at":          time.Now().UTC().Format(time.RFC3339),
		"from_status": doc.ProcessingStatus,
		"resume_job":  kind,
		"by":          scope.UserID,
	}
	if err := o.store.Documents.RecordRetry(ctx, documentID, entry); err != nil {
		return "", err
	}

	jobID, err := o.queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:         kind,
		Payload:      documentJob{DocumentID: doc.ID, DealID: doc.DealID, OrgID: scope.OrgID},
		SingletonKey: doc.ID,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return jobID, err
	}
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// IndexEpisode queues an analyst assertion for knowledge base indexing. The
// extraction runs in the job so supersession of document facts applies the
// same way it does during ingestion. Deduplicated by content so a retried
// tool call does not index the assertion twice.
func (o *Orchestrator) IndexEpisode(ctx context.Context, scope repository.Scope, dealID, fact string) (string, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return "", common.E(common.KindValidation, "fact is empty")
	}
	groupID := common.GroupID(scope.OrgID, dealID)
	jobID, err := o.queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:         JobIndexEpisode,
		Payload:      episodeJob{OrgID: scope.OrgID, DealID: dealID, UserID: scope.UserID, Fact: fact},
		SingletonKey: JobIndexEpisode + ":" + common.ContentHash(groupID, fact),
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return jobID, nil
	}
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// setStatus persists the transition and fans it out. Illegal transitions are
// logged and rejected so a stale duplicate job cannot regress a document.
func (o *Orchestrator) setStatus(ctx context.Context, job documentJob, from, to, stage string) error {
	if !CanTransition(from, to) {
		return common.Ef(common.KindConflict, "illegal status transition %s -> %s", from, to)
	}
	if err := o.store.Documents.UpdateStatus(ctx, job.DocumentID, to, stage); err != nil {
		return err
	}
	o.publishStatus(job, to, stage, "")
	return nil
}

func (o *Orchestrator) publishStatus(job documentJob, status, stage, errMsg string) {
	event := queue.DocumentStatusEvent{
		DocumentID: job.DocumentID,
		DealID:     job.DealID,
		OrgID:      job.OrgID,
		Status:     status,
		Stage:      stage,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}
	if err := o.fanout.PublishStatus(event); err != nil {
		common.Logger.WithError(err).WithField("document_id", job.DocumentID).
			Warn("status fan-out failed")
	}
}

// failDocument records the structured error and, when the failure is terminal
// or the queue has no attempts left, marks the document failed. Retryable
// failures with attempts remaining leave the status untouched so the queue
// retry re-enters the stage.
func (o *Orchestrator) failDocument(ctx context.Context, job *queue.Job, p documentJob, stageErr error, failedStatus string) {
	procErr := map[string]interface{}{
		"kind":    string(common.KindOf(stageErr)),
		"message": common.Truncate(stageErr.Error(), 1000),
		"at":      time.Now().UTC().Format(time.RFC3339),
	}
	if g := common.GuidanceOf(stageErr); g != "" {
		procErr["guidance"] = g
	}
	if err := o.store.Documents.RecordError(ctx, p.DocumentID, procErr); err != nil {
		common.Logger.WithError(err).WithField("document_id", p.DocumentID).
			Warn("failed to record processing error")
	}

	lastAttempt := job != nil && job.Attempt >= job.MaxAttempts
	if !common.IsRetryable(stageErr) || lastAttempt {
		if err := o.store.Documents.UpdateStatus(ctx, p.DocumentID, failedStatus, ""); err != nil {
			common.Logger.WithError(err).WithField("document_id", p.DocumentID).
				Warn("failed to mark document failed")
		}
		o.publishStatus(p, failedStatus, "", common.Truncate(stageErr.Error(), 500))
	}
}
