// Package retrieval answers "what does the deal room say about X": hybrid
// search over the knowledge graph, model reranking, and assembly of a
// citation-annotated context block sized for a model prompt.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"dealgraph.org/cache"
	"dealgraph.org/common"
	"dealgraph.org/embed"
	"dealgraph.org/graphiti"
	"dealgraph.org/llm"
	"dealgraph.org/parse"
)

// ContextTokenBudget bounds the assembled context so it never crowds out the
// conversation in the model prompt.
const ContextTokenBudget = 2000

// defaultSearchLimit is how many fused candidates feed the reranker.
const defaultSearchLimit = 20

// Passage is one retrieved source with its citation.
type Passage struct {
	EpisodeUUID string  `json:"episode_uuid"`
	Body        string  `json:"body"`
	Score       float64 `json:"score"`
	DocumentID  string  `json:"document_id,omitempty"`
	ChunkID     string  `json:"chunk_id,omitempty"`
	// Citation is the human-readable provenance, e.g. "cim.pdf (page 12)".
	Citation string `json:"citation"`
}

// Result is the assembled retrieval output.
type Result struct {
	Passages []Passage `json:"passages"`
	// Context is the token-budgeted, citation-numbered block for the prompt.
	Context string `json:"context"`
	// Degraded is set when a search leg or the reranker failed and the
	// result was produced from what remained.
	Degraded bool `json:"degraded,omitempty"`
	// FromCache reports a cache hit; cached results skip search entirely.
	FromCache bool `json:"from_cache,omitempty"`
}

// Retriever wires search, reranking, and caching.
type Retriever struct {
	graph    *graphiti.GraphStore
	embedder *embed.Client
	reranker *llm.Reranker
	cache    *cache.Cache
}

// NewRetriever assembles the retrieval pipeline. The reranker may be nil to
// skip reranking.
func NewRetriever(graph *graphiti.GraphStore, embedder *embed.Client, reranker *llm.Reranker, c *cache.Cache) *Retriever {
	return &Retriever{graph: graph, embedder: embedder, reranker: reranker, cache: c}
}

// Retrieve runs the full pipeline for one query. Identical queries within the
// cache TTL return the cached result; deal-room writes invalidate by group
// prefix.
func (r *Retriever) Retrieve(ctx context.Context, groupID, query string, limit int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.E(common.KindValidation, "query is required")
	}
	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}

	key := cache.RetrievalKey(groupID, queryHash(query, limit))
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var cached Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				cached.FromCache = true
				return &cached, nil
			}
		}
	}

	result, err := r.retrieve(ctx, groupID, query, limit)
	if err != nil {
		return nil, err
	}

	if r.cache != nil && !result.Degraded {
		if raw, err := json.Marshal(result); err == nil {
			r.cache.Set(ctx, key, raw, cache.TTLRetrieval)
		}
	}
	return result, nil
}

func (r *Retriever) retrieve(ctx context.Context, groupID, query string, limit int) (*Result, error) {
	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Search still has the fulltext and graph legs without a vector.
		common.Logger.WithError(err).Warn("query embedding failed, degrading to lexical search")
		queryVec = nil
	}

	hits, err := r.graph.HybridSearch(ctx, groupID, query, queryVec, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Result{Context: ""}, nil
	}

	degraded := queryVec == nil
	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	if r.reranker != nil {
		candidates := make([]string, len(hits))
		for i, h := range hits {
			candidates[i] = h.Body
		}
		ranked, rerr := r.reranker.Rerank(ctx, query, candidates)
		if rerr != nil {
			degraded = true
		}
		order = ranked
	}

	passages := make([]Passage, 0, len(hits))
	for _, idx := range order {
		h := hits[idx]
		passages = append(passages, Passage{
			EpisodeUUID: h.EpisodeUUID,
			Body:        h.Body,
			Score:       h.Score,
			DocumentID:  h.DocumentID,
			ChunkID:     h.ChunkID,
			Citation:    h.SourceDesc,
		})
	}

	kept, contextBlock := AssembleContext(passages, ContextTokenBudget)
	return &Result{Passages: kept, Context: contextBlock, Degraded: degraded}, nil
}

// AssembleContext builds the numbered context block, dropping passages once
// the token budget is exhausted. Passages are already in relevance order, so
// truncation sheds the least relevant sources.
func AssembleContext(passages []Passage, budget int) ([]Passage, string) {
	var sb strings.Builder
	var kept []Passage
	used := 0

	for _, p := range passages {
		entry := fmt.Sprintf("[%d] %s\nSource: %s\n\n", len(kept)+1, p.Body, citationOrFallback(p))
		cost := parse.EstimateTokens(entry)
		if used+cost > budget {
			if len(kept) == 0 {
				// Never return zero passages when something matched; truncate
				// the best hit to fit instead.
				truncated := p
				truncated.Body = truncateToTokens(p.Body, budget)
				entry = fmt.Sprintf("[1] %s\nSource: %s\n\n", truncated.Body, citationOrFallback(truncated))
				sb.WriteString(entry)
				kept = append(kept, truncated)
			}
			break
		}
		sb.WriteString(entry)
		kept = append(kept, p)
		used += cost
	}
	return kept, strings.TrimRight(sb.String(), "\n")
}

// InvalidateGroup drops cached retrievals for a deal after its knowledge
// changes (new document ingested, facts invalidated).
func (r *Retriever) InvalidateGroup(ctx context.Context, groupID string) {
	if r.cache == nil {
		return
	}
	removed := r.cache.DeletePrefix(ctx, cache.NSRetrieval+groupID+":")
	common.Logger.WithFields(map[string]interface{}{
		"group_id": groupID, "removed": removed,
	}).Debug("retrieval cache invalidated")
}

func citationOrFallback(p Passage) string {
	if p.Citation != "" {
		return p.Citation
	}
	if p.DocumentID != "" {
		return "document " + p.DocumentID
	}
	return "knowledge graph"
}

func truncateToTokens(text string, budget int) string {
	// Token estimate is chars/4; leave headroom for the citation line.
	maxChars := (budget - 50) * 4
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

func queryHash(query string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", limit, strings.ToLower(query))))
	return hex.EncodeToString(sum[:8])
}
