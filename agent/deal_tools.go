package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dealgraph.org/common"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
)

// KnowledgeIndexer queues analyst assertions for asynchronous indexing into
// the knowledge graph. Satisfied by *ingest.Orchestrator.
type KnowledgeIndexer interface {
	IndexEpisode(ctx context.Context, scope repository.Scope, dealID, fact string) (string, error)
}

// RegisterDealTools wires the standard toolset against the deal room.
// indexer may be nil, which disables the knowledge write-back tool.
func RegisterDealTools(tb *Toolbox, store *repository.Store, retriever Searcher, indexer KnowledgeIndexer) {
	tb.Register(&Tool{
		Name:        "search_deal_room",
		Description: "Hybrid search over all ingested documents and the knowledge graph. Returns cited passages.",
		ArgsHint:    `{"query": "what to look for"}`,
		Tier:        TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			if retriever == nil {
				return "", common.E(common.KindInternal, "search is not wired")
			}
			result, err := retriever.Retrieve(ctx, tc.GroupID, a.Query, 10)
			if err != nil {
				return "", err
			}
			if len(result.Passages) == 0 {
				return "No matching material in the deal room.", nil
			}
			return result.Context, nil
		},
	})

	tb.Register(&Tool{
		Name:        "index_to_knowledge_base",
		Description: "Record a fact the analyst asserted or corrected into the knowledge graph. Use whenever the analyst corrects a figure or states information not found in the documents; the analyst's statement supersedes what the documents claim.",
		ArgsHint:    `{"fact": "one full sentence stating the fact, with figures and entity names"}`,
		Tier:        TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				Fact string `json:"fact"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			if indexer == nil {
				return "", common.E(common.KindInternal, "knowledge indexing is not wired")
			}
			jobID, err := indexer.IndexEpisode(ctx, tc.Scope, tc.DealID, a.Fact)
			if err != nil {
				return "", err
			}
			return "Fact queued for knowledge base indexing (job " + jobID + ").", nil
		},
	})

	tb.Register(&Tool{
		Name:        "list_documents",
		Description: "List documents in the deal room with their processing status.",
		ArgsHint:    `{"folder": "/ or a folder path, optional"}`,
		Tier:        TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				Folder string `json:"folder"`
			}
			_ = json.Unmarshal(args, &a)
			docs, err := store.Documents.ListDocuments(ctx, tc.Scope, tc.DealID, a.Folder)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, d := range docs {
				fmt.Fprintf(&sb, "%s | %s | status=%s reliability=%s\n",
					d.ID, d.Name, d.ProcessingStatus, d.ReliabilityStatus)
			}
			if sb.Len() == 0 {
				return "No documents uploaded yet.", nil
			}
			return sb.String(), nil
		},
	})

	tb.Register(&Tool{
		Name:        "list_findings",
		Description: "List extracted findings for the deal, optionally filtered by validation status.",
		ArgsHint:    `{"status": "pending|validated|rejected, optional"}`,
		Tier:        TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				Status string `json:"status"`
			}
			_ = json.Unmarshal(args, &a)
			findings, err := store.Findings.ListFindings(ctx, tc.Scope, tc.DealID, a.Status)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, f := range findings {
				flag := ""
				if f.NeedsReview {
					flag = " [needs review]"
				}
				fmt.Fprintf(&sb, "%s | %s/%s conf=%.2f%s | %s\n",
					f.ID, f.FindingType, f.Domain, f.Confidence, flag, f.Text)
			}
			if sb.Len() == 0 {
				return "No findings extracted yet.", nil
			}
			return sb.String(), nil
		},
	})

	tb.Register(&Tool{
		Name:        "get_financial_metrics",
		Description: "Cell-level financial metrics extracted from a spreadsheet document.",
		ArgsHint:    `{"document_id": "uuid"}`,
		Tier:        TierBasic,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				DocumentID string `json:"document_id"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			metrics, err := store.Findings.ListMetrics(ctx, tc.Scope, a.DocumentID)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, m := range metrics {
				fmt.Fprintf(&sb, "%s = %v", m.MetricName, m.Value)
				if m.SourceSheet != "" {
					fmt.Fprintf(&sb, " (%s!%s)", m.SourceSheet, m.SourceCell)
				}
				if m.SourceFormula != "" {
					fmt.Fprintf(&sb, " formula: %s", m.SourceFormula)
				}
				sb.WriteString("\n")
			}
			if sb.Len() == 0 {
				return "No metrics extracted from this document.", nil
			}
			return sb.String(), nil
		},
	})

	tb.Register(&Tool{
		Name:        "list_contradictions",
		Description: "Unresolved contradictions between findings across documents.",
		ArgsHint:    `{}`,
		Tier:        TierAdvanced,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			contradictions, err := store.Findings.ListContradictions(ctx, tc.Scope, tc.DealID)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, c := range contradictions {
				fmt.Fprintf(&sb, "%s | status=%s conf=%.2f | findings %s vs %s\n",
					c.ID, c.Status, c.Confidence, c.FindingAID, c.FindingBID)
			}
			if sb.Len() == 0 {
				return "No contradictions recorded.", nil
			}
			return sb.String(), nil
		},
	})

	tb.Register(&Tool{
		Name:        "add_qa_item",
		Description: "Add an open question to the deal's Q&A tracker for the counterparty.",
		ArgsHint:    `{"question": "...", "category": "Financials|Legal|Operations|Market|Technology|HR", "priority": "high|medium|low"}`,
		Tier:        TierAdvanced,
		Run: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var a struct {
				Question string `json:"question"`
				Category string `json:"category"`
				Priority string `json:"priority"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			item := &db.QAItem{
				DealID:    tc.DealID,
				Question:  a.Question,
				Category:  a.Category,
				Priority:  a.Priority,
				DateAdded: time.Now().UTC(),
			}
			if err := store.Work.CreateQAItem(ctx, tc.Scope, item); err != nil {
				return "", err
			}
			return "Q&A item created: " + item.ID, nil
		},
	})
}
