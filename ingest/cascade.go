package ingest

import (
	"context"

	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
)

// EvaluateSourceErrors runs after an analyst confirms a source_error
// correction. One confirmed source error is enough to make the document
// suspect: with sourceErrorCascadeEnabled on, the document is marked
// unreliable and the graph facts derived from it are invalidated. Flipping
// the document's unvalidated sibling findings to needs_review is gated
// separately by autoFlagDocumentFindings.
//
// Both flags default off because the cascade retracts knowledge in bulk; with
// the cascade flag off the confirmation is only logged. Returns the number of
// sibling findings flagged.
func (o *Orchestrator) EvaluateSourceErrors(ctx context.Context, scope repository.Scope, documentID, exceptFindingID string) (int64, error) {
	count, err := o.store.Findings.CountSourceErrors(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if !o.store.Flags.IsEnabled(ctx, FlagSourceErrorCascade) {
		common.Logger.WithFields(map[string]interface{}{
			"document_id": documentID, "source_errors": count,
		}).Warn("source error confirmed, cascade disabled by flag")
		return 0, nil
	}

	if err := o.store.Documents.SetReliability(ctx, scope, documentID, db.ReliabilityContainsErrors); err != nil {
		return 0, err
	}

	var flagged int64
	if o.store.Flags.IsEnabled(ctx, FlagAutoFlagFindings) {
		flagged, err = o.store.Findings.FlagSiblings(ctx, documentID, exceptFindingID,
			"document has confirmed source errors")
		if err != nil {
			return 0, err
		}
	}

	doc, err := o.store.Documents.GetDocument(ctx, scope, documentID)
	if err != nil {
		return flagged, err
	}
	chunks, err := o.store.Documents.ListChunks(ctx, documentID)
	if err != nil {
		return flagged, err
	}
	var episodeIDs []string
	for _, c := range chunks {
		if c.EpisodeID != "" {
			episodeIDs = append(episodeIDs, c.EpisodeID)
		}
	}
	var invalidated int64
	if o.graph != nil && len(episodeIDs) > 0 {
		invalidated, err = o.graph.InvalidateByEpisodes(ctx, common.GroupID(scope.OrgID, doc.DealID), episodeIDs)
		if err != nil {
			// Graph retraction failing must not hide the reliability downgrade
			// that already happened; surface it as degraded knowledge.
			return flagged, common.Wrap(common.KindDegradedKnowledge,
				"document flagged but graph facts not invalidated", err)
		}
	}

	common.Logger.WithFields(map[string]interface{}{
		"document_id":       documentID,
		"source_errors":     count,
		"flagged_findings":  flagged,
		"invalidated_facts": invalidated,
	}).Warn("source error cascade applied")
	return flagged, nil
}
