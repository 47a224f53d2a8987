// Package agent runs chat turns: it classifies the question, routes it to a
// model tier, loops over tool calls, and streams the answer. Specialists
// handle financial analysis and knowledge graph work under a supervisor.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"dealgraph.org/cache"
	"dealgraph.org/common"
	"dealgraph.org/llm"
)

// Intents determine which specialist handles the turn.
const (
	IntentLookup    = "lookup"    // direct factual question, answerable from retrieval
	IntentFinancial = "financial" // metrics, trends, modeling
	IntentGraph     = "graph"     // relationships, timelines, contradictions
	IntentDrafting  = "drafting"  // produce text: summaries, CIM sections, emails
	IntentGeneral   = "general"   // everything else
)

// Classification is the routing decision for one turn.
type Classification struct {
	Intent     string         `json:"intent"`
	Complexity llm.Complexity `json:"complexity"`
	// NeedsTools is false for pure drafting turns that only use history.
	NeedsTools bool `json:"needs_tools"`
}

const classifierSystem = `You route M&A due-diligence questions.
Return JSON only: {"intent": "lookup|financial|graph|drafting|general",
"complexity": "simple|moderate|complex", "needs_tools": true}
- "financial": metrics, valuation, trends, unit economics.
- "graph": relationships between entities, timelines, who-owns-what, contradictions.
- "drafting": writing tasks using already-known material.
- "lookup": a single fact retrievable from documents.
- complexity "complex" means multi-step reasoning across several sources.`

// Classifier decides intent and complexity, memoizing by query hash so
// repeated phrasings of the same question skip the model call.
type Classifier struct {
	provider llm.Provider
	cache    *cache.Cache
}

func NewClassifier(provider llm.Provider, c *cache.Cache) *Classifier {
	return &Classifier{provider: provider, cache: c}
}

// Classify routes one query. Heuristics answer the obvious cases without a
// model call; the rest go to the fast model tier.
func (c *Classifier) Classify(ctx context.Context, groupID, query string) Classification {
	if cls, ok := classifyHeuristic(query); ok {
		return cls
	}

	key := cache.ClassifierKey(groupID, classifierHash(query))
	if c.cache != nil {
		if raw, found := c.cache.Get(ctx, key); found {
			var cls Classification
			if err := json.Unmarshal(raw, &cls); err == nil {
				return cls
			}
		}
	}

	cls := c.classifyModel(ctx, query)
	if c.cache != nil {
		if raw, err := json.Marshal(cls); err == nil {
			c.cache.Set(ctx, key, raw, cache.TTLClassifier)
		}
	}
	return cls
}

func (c *Classifier) classifyModel(ctx context.Context, query string) Classification {
	fallback := Classification{Intent: IntentGeneral, Complexity: llm.ComplexityModerate, NeedsTools: true}
	if c.provider == nil {
		return fallback
	}

	resp, err := c.provider.Generate(ctx, llm.Request{
		Model:    llm.ModelClassifier,
		System:   classifierSystem,
		JSONMode: true,
		Messages: []llm.Message{{Role: "user", Content: query}},
	})
	if err != nil {
		common.Logger.WithError(err).Debug("classifier degraded to default routing")
		return fallback
	}

	var raw struct {
		Intent     string `json:"intent"`
		Complexity string `json:"complexity"`
		NeedsTools *bool  `json:"needs_tools"`
	}
	if err := llm.DecodeJSON(resp.Text, &raw); err != nil {
		return fallback
	}

	cls := Classification{
		Intent:     normalizeIntent(raw.Intent),
		Complexity: normalizeComplexity(raw.Complexity),
		NeedsTools: true,
	}
	if raw.NeedsTools != nil {
		cls.NeedsTools = *raw.NeedsTools
	}
	return cls
}

// classifyHeuristic catches queries whose shape alone decides the route.
func classifyHeuristic(query string) (Classification, bool) {
	q := strings.ToLower(strings.TrimSpace(query))

	greetings := []string{"hi", "hello", "hey", "thanks", "thank you", "ok", "okay"}
	for _, g := range greetings {
		if q == g || q == g+"!" || q == g+"." {
			return Classification{Intent: IntentGeneral, Complexity: llm.ComplexitySimple, NeedsTools: false}, true
		}
	}

	financialTerms := []string{"revenue", "ebitda", "margin", "cash flow", "capex", "arr", "churn", "valuation", "multiple"}
	for _, term := range financialTerms {
		if strings.Contains(q, term) {
			return Classification{Intent: IntentFinancial, Complexity: llm.ComplexityModerate, NeedsTools: true}, true
		}
	}

	graphTerms := []string{"contradiction", "timeline", "relationship", "who owns", "subsidiar", "acquired", "connected to"}
	for _, term := range graphTerms {
		if strings.Contains(q, term) {
			return Classification{Intent: IntentGraph, Complexity: llm.ComplexityModerate, NeedsTools: true}, true
		}
	}

	draftTerms := []string{"draft", "write a", "compose", "summarize this conversation", "rewrite"}
	for _, term := range draftTerms {
		if strings.Contains(q, term) {
			return Classification{Intent: IntentDrafting, Complexity: llm.ComplexityModerate, NeedsTools: false}, true
		}
	}

	return Classification{}, false
}

func normalizeIntent(intent string) string {
	switch intent {
	case IntentLookup, IntentFinancial, IntentGraph, IntentDrafting, IntentGeneral:
		return intent
	default:
		return IntentGeneral
	}
}

func normalizeComplexity(c string) llm.Complexity {
	switch llm.Complexity(c) {
	case llm.ComplexitySimple, llm.ComplexityModerate, llm.ComplexityComplex:
		return llm.Complexity(c)
	default:
		return llm.ComplexityModerate
	}
}

func classifierHash(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:8])
}
