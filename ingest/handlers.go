package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dealgraph.org/checkpoint"
	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/graphiti"
	"dealgraph.org/parse"
	"dealgraph.org/queue"
	"dealgraph.org/usage"
	"dealgraph.org/worker"
)

// RegisterHandlers binds the pipeline handlers with their concurrency caps.
// Parsing is cheap and IO-bound; graph ingestion and analysis hold model
// quota so they run narrower.
func (o *Orchestrator) RegisterHandlers(reg *worker.Registry, maxConcurrency, analysisConcurrency int) {
	reg.MustRegister(JobParseDocument, o.handleParse, maxConcurrency)
	reg.MustRegister(JobGraphitiIngest, o.handleGraphitiIngest, analysisConcurrency)
	reg.MustRegister(JobAnalyzeDocument, o.handleAnalyze, analysisConcurrency)
	reg.MustRegister(JobIndexEpisode, o.handleIndexEpisode, analysisConcurrency)
}

// RegisterMaintenance binds periodic cleanup jobs. These are enqueued by the
// scheduler with singleton keys so only one runs at a time.
func RegisterMaintenance(reg *worker.Registry, checkpoints *checkpoint.Store, recorder *usage.Recorder) {
	reg.MustRegister(JobCheckpointCleanup, func(ctx context.Context, job *queue.Job) error {
		cutoff := time.Now().UTC().Add(-checkpoint.DefaultRetention)
		deleted, err := checkpoints.DeleteBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		common.Logger.WithField("deleted", deleted).Info("checkpoint retention sweep complete")
		return nil
	}, 1)
	reg.MustRegister(JobUsageAlerts, func(ctx context.Context, job *queue.Job) error {
		_, err := recorder.CheckAlerts(ctx)
		return err
	}, 1)
}

func (o *Orchestrator) loadJob(job *queue.Job) (documentJob, repository.Scope, error) {
	var p documentJob
	if err := job.UnmarshalPayload(&p); err != nil {
		return p, repository.Scope{}, common.Wrap(common.KindValidation, "malformed job payload", err)
	}
	if p.DocumentID == "" || p.OrgID == "" {
		return p, repository.Scope{}, common.E(common.KindValidation, "job payload missing document or org")
	}
	return p, repository.Scope{OrgID: p.OrgID}, nil
}

// handleParse downloads the blob, parses it into chunks, and persists chunks
// and deterministic metrics. Idempotent: a rerun replaces the chunk set.
func (o *Orchestrator) handleParse(ctx context.Context, job *queue.Job) error {
	p, scope, err := o.loadJob(job)
	if err != nil {
		return err
	}
	ctx = usage.WithTenant(ctx, usage.Tenant{OrgID: p.OrgID, DealID: p.DealID})

	doc, err := o.store.Documents.GetDocument(ctx, scope, p.DocumentID)
	if err != nil {
		return err
	}
	if doc.LastCompletedStage != "" {
		// Stage already durably completed; jump straight to the next one.
		common.Logger.WithField("document_id", doc.ID).Info("parse already complete, skipping")
		return o.enqueueNext(ctx, p, JobGraphitiIngest)
	}

	if err := o.setStatus(ctx, p, doc.ProcessingStatus, db.StatusParsing, ""); err != nil {
		return err
	}

	body, err := o.blobs.Download(ctx, doc.BlobPath)
	if err != nil {
		o.failDocument(ctx, job, p, err, db.StatusFailed)
		return err
	}
	defer body.Close()

	result, err := o.parser.Parse(ctx, doc.Name, doc.MimeType, body)
	if err != nil {
		o.failDocument(ctx, job, p, err, db.StatusFailed)
		return err
	}

	chunks := make([]db.DocumentChunk, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		chunk := db.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			ChunkType:  c.Type,
			PageNumber: c.PageNumber,
			SheetName:  c.SheetName,
			CellRef:    c.CellRef,
			TokenCount: c.TokenCount,
		}
		if c.OCRProcessed {
			chunk.Metadata = db.JSONMap{"ocr_processed": true}
		}
		chunks = append(chunks, chunk)
	}
	if err := o.store.Documents.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		o.failDocument(ctx, job, p, err, db.StatusFailed)
		return err
	}

	if notes := parseNotes(result); notes != nil {
		if err := o.store.Documents.SetParseNotes(ctx, doc.ID, notes); err != nil {
			return err
		}
	}

	if metrics := metricsFromCandidates(doc.ID, result.Metrics); len(metrics) > 0 {
		if err := o.store.Findings.CreateMetrics(ctx, metrics); err != nil {
			o.failDocument(ctx, job, p, err, db.StatusFailed)
			return err
		}
	}

	if err := o.setStatus(ctx, p, db.StatusParsing, db.StatusParsed, db.StageParsed); err != nil {
		return err
	}
	common.Logger.WithFields(map[string]interface{}{
		"document_id": doc.ID, "chunks": len(chunks), "format": string(result.Format),
	}).Info("document parsed")

	return o.enqueueNext(ctx, p, JobGraphitiIngest)
}

// handleGraphitiIngest embeds chunks and writes graph episodes. Idempotent at
// chunk granularity: chunks that already carry an episode id are skipped, so
// a retry resumes mid-document.
func (o *Orchestrator) handleGraphitiIngest(ctx context.Context, job *queue.Job) error {
	p, scope, err := o.loadJob(job)
	if err != nil {
		return err
	}
	ctx = usage.WithTenant(ctx, usage.Tenant{OrgID: p.OrgID, DealID: p.DealID})

	doc, err := o.store.Documents.GetDocument(ctx, scope, p.DocumentID)
	if err != nil {
		return err
	}
	if doc.LastCompletedStage == db.StageGraphitiIngested ||
		doc.LastCompletedStage == db.StageAnalyzed || doc.LastCompletedStage == db.StageComplete {
		return o.enqueueNext(ctx, p, JobAnalyzeDocument)
	}

	if err := o.setStatus(ctx, p, doc.ProcessingStatus, db.StatusGraphitiIngesting, ""); err != nil {
		return err
	}

	chunks, err := o.store.Documents.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	groupID := common.GroupID(p.OrgID, p.DealID)

	pending := make([]db.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.EpisodeID == "" {
			pending = append(pending, c)
		}
	}

	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for i, c := range pending {
			texts[i] = c.Content
		}
		vectors, err := o.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			o.failDocument(ctx, job, p, err, db.StatusFailed)
			return err
		}

		for i, c := range pending {
			ext, err := extractGraph(ctx, o.llm, c.Content)
			if err != nil {
				o.failDocument(ctx, job, p, err, db.StatusFailed)
				return err
			}
			episodeID, err := o.graph.AddEpisode(ctx, graphiti.Episode{
				GroupID:    groupID,
				Body:       c.Content,
				Source:     graphiti.SourceDocument,
				SourceDesc: fmt.Sprintf("%s (%s)", doc.Name, chunkLocation(c)),
				DocumentID: doc.ID,
				ChunkID:    c.ID,
				Embedding:  vectors[i],
			}, ext)
			if err != nil {
				o.failDocument(ctx, job, p, err, db.StatusFailed)
				return err
			}
			if err := o.store.Documents.SetChunkEpisode(ctx, c.ID, episodeID); err != nil {
				return err
			}
		}
	}

	if err := o.setStatus(ctx, p, db.StatusGraphitiIngesting, db.StatusGraphitiIngested, db.StageGraphitiIngested); err != nil {
		return err
	}
	common.Logger.WithFields(map[string]interface{}{
		"document_id": doc.ID, "episodes": len(pending),
	}).Info("document ingested into graph")

	return o.enqueueNext(ctx, p, JobAnalyzeDocument)
}

// handleAnalyze extracts findings, cross-checks metrics for contradictions,
// and completes the pipeline.
func (o *Orchestrator) handleAnalyze(ctx context.Context, job *queue.Job) error {
	p, scope, err := o.loadJob(job)
	if err != nil {
		return err
	}
	ctx = usage.WithTenant(ctx, usage.Tenant{OrgID: p.OrgID, DealID: p.DealID})

	doc, err := o.store.Documents.GetDocument(ctx, scope, p.DocumentID)
	if err != nil {
		return err
	}
	if doc.LastCompletedStage == db.StageAnalyzed || doc.LastCompletedStage == db.StageComplete {
		return nil
	}

	if err := o.setStatus(ctx, p, doc.ProcessingStatus, db.StatusAnalyzing, ""); err != nil {
		return err
	}

	chunks, err := o.store.Documents.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	// Idempotency: a rerun after a partial failure would duplicate findings,
	// so prior rows from this document are the baseline and extraction only
	// runs when none exist.
	existing, err := o.store.Findings.ListFindingsByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for start := 0; start < len(chunks); start += analysisBatchChunks {
			end := start + analysisBatchChunks
			if end > len(chunks) {
				end = len(chunks)
			}
			findings, err := extractFindings(ctx, o.llm, doc, chunks[start:end])
			if err != nil {
				o.failDocument(ctx, job, p, err, db.StatusAnalysisFailed)
				return err
			}
			if err := o.store.Findings.CreateFindings(ctx, findings); err != nil {
				o.failDocument(ctx, job, p, err, db.StatusAnalysisFailed)
				return err
			}
		}
	}

	if err := o.detectContradictions(ctx, scope, p.DealID); err != nil {
		// Contradiction detection is best-effort; a failure degrades the
		// analysis rather than failing the document.
		common.Logger.WithError(err).WithField("document_id", doc.ID).
			Warn("contradiction detection degraded")
	}

	if err := o.setStatus(ctx, p, db.StatusAnalyzing, db.StatusAnalyzed, db.StageAnalyzed); err != nil {
		return err
	}
	if err := o.setStatus(ctx, p, db.StatusAnalyzed, db.StatusComplete, db.StageComplete); err != nil {
		return err
	}
	common.Logger.WithField("document_id", doc.ID).Info("document processing complete")
	return nil
}

// handleIndexEpisode ingests one analyst assertion from chat into the
// knowledge graph. The full extraction pipeline runs on the assertion text,
// so a corrected figure supersedes the document-derived fact edge instead of
// sitting next to it.
func (o *Orchestrator) handleIndexEpisode(ctx context.Context, job *queue.Job) error {
	var p episodeJob
	if err := job.UnmarshalPayload(&p); err != nil {
		return common.Wrap(common.KindValidation, "malformed job payload", err)
	}
	if p.OrgID == "" || p.DealID == "" || p.Fact == "" {
		return common.E(common.KindValidation, "job payload missing org, deal, or fact")
	}
	ctx = usage.WithTenant(ctx, usage.Tenant{OrgID: p.OrgID, DealID: p.DealID, UserID: p.UserID})

	vectors, err := o.embedder.EmbedDocuments(ctx, []string{p.Fact})
	if err != nil {
		return err
	}
	ext, err := extractGraph(ctx, o.llm, p.Fact)
	if err != nil {
		return err
	}

	episodeID, err := o.graph.AddEpisode(ctx, graphiti.Episode{
		GroupID:    common.GroupID(p.OrgID, p.DealID),
		Body:       p.Fact,
		Source:     graphiti.SourceAnalystChat,
		SourceDesc: "analyst assertion",
		Embedding:  vectors[0],
	}, ext)
	if err != nil {
		return err
	}
	common.Logger.WithFields(map[string]interface{}{
		"deal_id": p.DealID, "episode_id": episodeID,
	}).Info("analyst assertion indexed")
	return nil
}

// detectContradictions cross-checks metric findings across the deal: the same
// metric name with values diverging more than 1% raises a contradiction row
// and a CONTRADICTS edge in the graph. Idempotent: pairs already recorded are
// skipped on rerun.
func (o *Orchestrator) detectContradictions(ctx context.Context, scope repository.Scope, dealID string) error {
	findings, err := o.store.Findings.ListFindings(ctx, scope, dealID, "")
	if err != nil {
		return err
	}
	existing, err := o.store.Findings.ListContradictions(ctx, scope, dealID)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, c := range existing {
		seen[c.FindingAID+"|"+c.FindingBID] = true
		seen[c.FindingBID+"|"+c.FindingAID] = true
	}

	type metricRef struct {
		findingID string
		value     float64
		document  string
	}
	byName := map[string][]metricRef{}
	for _, f := range findings {
		if f.FindingType != "metric" || f.DocumentID == nil {
			continue
		}
		name, value, ok := parseMetricFinding(f.Text)
		if !ok {
			continue
		}
		byName[name] = append(byName[name], metricRef{
			findingID: f.ID, value: value, document: f.SourceDocument,
		})
	}

	for name, refs := range byName {
		for i := 0; i < len(refs); i++ {
			for j := i + 1; j < len(refs); j++ {
				a, b := refs[i], refs[j]
				if seen[a.findingID+"|"+b.findingID] || !valuesDiverge(a.value, b.value) {
					continue
				}
				err := o.store.Findings.CreateContradiction(ctx, &db.Contradiction{
					DealID:     dealID,
					FindingAID: a.findingID,
					FindingBID: b.findingID,
					Confidence: 0.80,
				})
				if err != nil {
					return err
				}
				o.recordContradictionFact(ctx, scope, dealID, name, a.document, b.document, a.value, b.value)
				common.Logger.WithFields(map[string]interface{}{
					"deal_id": dealID, "metric": name,
				}).Info("contradiction detected")
			}
		}
	}
	return nil
}

// recordContradictionFact writes the conflict into the knowledge graph so
// retrieval surfaces it next to the conflicting sources. Best-effort.
func (o *Orchestrator) recordContradictionFact(ctx context.Context, scope repository.Scope,
	dealID, metric, docA, docB string, valueA, valueB float64) {
	if o.graph == nil || docA == "" || docB == "" || docA == docB {
		return
	}
	body := fmt.Sprintf("Conflicting values reported for %s: %s states %g while %s states %g.",
		metric, docA, valueA, docB, valueB)
	_, err := o.graph.AddEpisode(ctx, graphiti.Episode{
		GroupID: common.GroupID(scope.OrgID, dealID),
		Body:    body,
		Source:  graphiti.SourceContradiction,
	}, graphiti.Extraction{
		Entities: []graphiti.ExtractedEntity{
			{Name: docA, Labels: []string{"Document"}},
			{Name: docB, Labels: []string{"Document"}},
		},
		Facts: []graphiti.ExtractedFact{{
			SubjectName: docA,
			ObjectName:  docB,
			Predicate:   "CONTRADICTS",
			Fact:        body,
			Method:      graphiti.MethodDerived,
		}},
	})
	if err != nil {
		common.Logger.WithError(err).WithField("deal_id", dealID).
			Warn("contradiction fact not written to graph")
	}
}

// valuesDiverge reports whether two claimed values for the same metric differ
// beyond rounding noise.
func valuesDiverge(a, b float64) bool {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return false
	}
	return math.Abs(a-b)/larger > 0.01
}

func (o *Orchestrator) enqueueNext(ctx context.Context, p documentJob, kind string) error {
	_, err := o.queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:         kind,
		Payload:      p,
		SingletonKey: p.DocumentID,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return nil
	}
	return err
}

// parseNotes distills extraction caveats worth persisting on the document.
// Returns nil when extraction had nothing to disclose.
func parseNotes(result *parse.Result) map[string]interface{} {
	notes := map[string]interface{}{}
	if len(result.SkippedPages) > 0 {
		notes["skipped_pages"] = result.SkippedPages
	}
	if len(result.SkippedSheets) > 0 {
		notes["skipped_sheets"] = result.SkippedSheets
	}
	for _, c := range result.Chunks {
		if c.OCRProcessed {
			notes["ocr_used"] = true
			break
		}
	}
	if len(notes) == 0 {
		return nil
	}
	return notes
}

func chunkLocation(c db.DocumentChunk) string {
	switch {
	case c.PageNumber != nil:
		return fmt.Sprintf("page %d", *c.PageNumber)
	case c.SheetName != "" && c.CellRef != "":
		return fmt.Sprintf("sheet %s %s", c.SheetName, c.CellRef)
	case c.SheetName != "":
		return "sheet " + c.SheetName
	default:
		return fmt.Sprintf("chunk %d", c.ChunkIndex)
	}
}
