package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealgraph.org/db"
	"dealgraph.org/graphiti"
	"dealgraph.org/llm"
	"dealgraph.org/parse"
)

const graphExtractionSystem = `You extract entities and facts from M&A due diligence documents.
Return JSON only, matching this schema exactly:
{
  "entities": [{"name": "...", "summary": "...", "labels": ["Company"]}],
  "facts": [{"subject": "...", "object": "...", "predicate": "HAS_REVENUE",
             "fact": "full sentence", "method": "explicit|inferred|derived",
             "valid_at": "2023-12-31T00:00:00Z or null"}]
}
Rules:
- "explicit" means the fact is stated verbatim in the text.
- "inferred" means you concluded it from context.
- "derived" means you computed it from other stated values.
- Predicates are UPPER_SNAKE_CASE.
- Only include entities that participate in at least one fact.
- valid_at is the date the fact held in the world, not the document date.`

type extractedGraphJSON struct {
	Entities []struct {
		Name    string   `json:"name"`
		Summary string   `json:"summary"`
		Labels  []string `json:"labels"`
	} `json:"entities"`
	Facts []struct {
		Subject   string `json:"subject"`
		Object    string `json:"object"`
		Predicate string `json:"predicate"`
		Fact      string `json:"fact"`
		Method    string `json:"method"`
		ValidAt   string `json:"valid_at"`
	} `json:"facts"`
}

// extractGraph asks the model for entities and facts in one chunk. An empty
// extraction is a valid outcome for boilerplate chunks.
func extractGraph(ctx context.Context, provider llm.Provider, content string) (graphiti.Extraction, error) {
	resp, err := provider.Generate(ctx, llm.Request{
		Model:    llm.ModelExtraction,
		System:   graphExtractionSystem,
		JSONMode: true,
		Messages: []llm.Message{{Role: "user", Content: content}},
	})
	if err != nil {
		return graphiti.Extraction{}, err
	}

	var raw extractedGraphJSON
	if err := llm.DecodeJSON(resp.Text, &raw); err != nil {
		return graphiti.Extraction{}, err
	}

	var ext graphiti.Extraction
	for _, e := range raw.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		ext.Entities = append(ext.Entities, graphiti.ExtractedEntity{
			Name:    strings.TrimSpace(e.Name),
			Summary: e.Summary,
			Labels:  e.Labels,
		})
	}
	for _, f := range raw.Facts {
		if f.Subject == "" || f.Object == "" || f.Predicate == "" {
			continue
		}
		fact := graphiti.ExtractedFact{
			SubjectName: strings.TrimSpace(f.Subject),
			ObjectName:  strings.TrimSpace(f.Object),
			Predicate:   strings.ToUpper(strings.TrimSpace(f.Predicate)),
			Fact:        f.Fact,
			Method:      f.Method,
		}
		if f.ValidAt != "" && f.ValidAt != "null" {
			if t, err := time.Parse(time.RFC3339, f.ValidAt); err == nil {
				fact.ValidAt = t
			}
		}
		ext.Facts = append(ext.Facts, fact)
	}
	return ext, nil
}

const findingsSystem = `You extract structured findings from M&A due diligence document excerpts.
Return JSON only:
{
  "findings": [{"text": "...", "type": "metric|fact|risk|opportunity",
                "domain": "financial|operational|market|legal|technical",
                "confidence": 0.0, "page": 3}]
}
Rules:
- text is a complete, self-contained statement an analyst can verify.
- confidence reflects how directly the source supports the statement.
- page is the page number of the excerpt, or null.
- Skip boilerplate, headers, and table-of-contents material.`

type extractedFindingsJSON struct {
	Findings []struct {
		Text       string  `json:"text"`
		Type       string  `json:"type"`
		Domain     string  `json:"domain"`
		Confidence float64 `json:"confidence"`
		Page       *int    `json:"page"`
	} `json:"findings"`
}

// extractFindings asks the model for findings over a batch of chunks from one
// document.
func extractFindings(ctx context.Context, provider llm.Provider, doc *db.Document, chunks []db.DocumentChunk) ([]db.Finding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for _, c := range chunks {
		if c.PageNumber != nil {
			fmt.Fprintf(&sb, "[page %d]\n", *c.PageNumber)
		} else if c.SheetName != "" {
			fmt.Fprintf(&sb, "[sheet %s]\n", c.SheetName)
		}
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}

	resp, err := provider.Generate(ctx, llm.Request{
		Model:    llm.ModelExtraction,
		System:   findingsSystem,
		JSONMode: true,
		Messages: []llm.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return nil, err
	}

	var raw extractedFindingsJSON
	if err := llm.DecodeJSON(resp.Text, &raw); err != nil {
		return nil, err
	}

	chunkByPage := map[int]string{}
	for _, c := range chunks {
		if c.PageNumber != nil {
			if _, ok := chunkByPage[*c.PageNumber]; !ok {
				chunkByPage[*c.PageNumber] = c.ID
			}
		}
	}

	var out []db.Finding
	for _, f := range raw.Findings {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		finding := db.Finding{
			DealID:         doc.DealID,
			DocumentID:     &doc.ID,
			Text:           strings.TrimSpace(f.Text),
			SourceDocument: doc.Name,
			Confidence:     clamp01(f.Confidence),
			FindingType:    normalizeFindingType(f.Type),
			Domain:         normalizeDomain(f.Domain),
			PageNumber:     f.Page,
		}
		if f.Page != nil {
			if chunkID, ok := chunkByPage[*f.Page]; ok {
				finding.ChunkID = &chunkID
			}
		}
		out = append(out, finding)
	}
	return out, nil
}

// metricsFromCandidates converts deterministic spreadsheet extractions into
// metric rows. No model involvement; the provenance comes straight from the
// cells.
func metricsFromCandidates(documentID string, candidates []parse.MetricCandidate) []db.FinancialMetric {
	out := make([]db.FinancialMetric, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, db.FinancialMetric{
			DocumentID:    documentID,
			MetricName:    c.Name,
			Value:         c.Value,
			SourceCell:    c.CellRef,
			SourceSheet:   c.Sheet,
			SourceFormula: c.Formula,
			IsActual:      c.Formula == "",
			Confidence:    1.0,
		})
	}
	return out
}

func normalizeFindingType(t string) string {
	switch t {
	case "metric", "fact", "risk", "opportunity", "contradiction":
		return t
	default:
		return "fact"
	}
}

func normalizeDomain(d string) string {
	switch d {
	case "financial", "operational", "market", "legal", "technical":
		return d
	default:
		return "financial"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
