// Package ingest drives documents through the processing pipeline: parsing,
// knowledge graph ingestion, and analysis. Each stage runs as a queued job;
// completed stages are recorded on the document so a retry resumes where the
// pipeline stopped instead of starting over.
package ingest

import (
	"dealgraph.org/common"
	"dealgraph.org/db"
)

// Job kinds handled by this package.
const (
	JobParseDocument     = "parse_document"
	JobGraphitiIngest    = "graphiti_ingest"
	JobAnalyzeDocument   = "analyze_document"
	JobIndexEpisode      = "index_episode"
	JobCheckpointCleanup = "checkpoint_cleanup"
	JobUsageAlerts       = "usage_alerts"
)

// validTransitions is the processing status lattice. A transition outside
// this map indicates a bug or a concurrent duplicate job and is rejected.
// In-progress states allow re-entry: a job that died mid-stage leaves the
// document in that state, and the queue retry must be able to resume it.
var validTransitions = map[string][]string{
	db.StatusPending:           {db.StatusParsing},
	db.StatusParsing:           {db.StatusParsing, db.StatusParsed, db.StatusFailed},
	db.StatusParsed:            {db.StatusGraphitiIngesting},
	db.StatusGraphitiIngesting: {db.StatusGraphitiIngesting, db.StatusGraphitiIngested, db.StatusFailed},
	db.StatusGraphitiIngested:  {db.StatusAnalyzing},
	db.StatusAnalyzing:         {db.StatusAnalyzing, db.StatusAnalyzed, db.StatusAnalysisFailed},
	db.StatusAnalyzed:          {db.StatusComplete},
	// Failed documents re-enter at the stage they resume from.
	db.StatusFailed:         {db.StatusParsing, db.StatusGraphitiIngesting, db.StatusAnalyzing},
	db.StatusAnalysisFailed: {db.StatusAnalyzing},
}

// CanTransition reports whether moving from one processing status to another
// is legal.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResumeJobKind maps the last durably completed stage to the job that should
// run next. Used by stage-aware retry so a document that parsed successfully
// never re-parses.
func ResumeJobKind(lastCompletedStage string) (string, error) {
	switch lastCompletedStage {
	case "":
		return JobParseDocument, nil
	case db.StageParsed:
		return JobGraphitiIngest, nil
	case db.StageGraphitiIngested:
		return JobAnalyzeDocument, nil
	case db.StageAnalyzed, db.StageComplete:
		return "", common.E(common.KindConflict, "document already fully processed")
	default:
		return "", common.Ef(common.KindInternal, "unknown completed stage %q", lastCompletedStage)
	}
}

// IsTerminalStatus reports whether a processing status ends the pipeline for
// fan-out purposes.
func IsTerminalStatus(status string) bool {
	switch status {
	case db.StatusComplete, db.StatusFailed, db.StatusAnalysisFailed:
		return true
	}
	return false
}
