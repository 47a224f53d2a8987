package graphiti

import (
	"context"
	"sort"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"

	"dealgraph.org/common"
)

// Search leg names, recorded on results for debugging relevance.
const (
	LegVector   = "vector"
	LegFulltext = "fulltext"
	LegGraph    = "graph"
)

// rrfK dampens rank influence in reciprocal rank fusion.
const rrfK = 60

// HybridSearch runs the vector, fulltext, and graph legs in parallel and
// fuses their rankings. A failed leg degrades the result set instead of
// failing the search; if every leg fails the search fails.
func (g *GraphStore) HybridSearch(ctx context.Context, groupID, query string, queryVec []float32, limit int) ([]SearchResult, error) {
	if err := requireGroup(groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	var mu sync.Mutex
	legResults := map[string][]SearchResult{}
	legErrs := map[string]error{}

	record := func(leg string, results []SearchResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			legErrs[leg] = err
			return
		}
		legResults[leg] = results
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if len(queryVec) == 0 {
			record(LegVector, nil, common.E(common.KindDegradedKnowledge, "no query vector"))
			return nil
		}
		res, err := g.vectorLeg(egCtx, groupID, queryVec, limit)
		record(LegVector, res, err)
		return nil
	})
	eg.Go(func() error {
		res, err := g.fulltextLeg(egCtx, groupID, query, limit)
		record(LegFulltext, res, err)
		return nil
	})
	eg.Go(func() error {
		res, err := g.graphLeg(egCtx, groupID, query, limit)
		record(LegGraph, res, err)
		return nil
	})
	_ = eg.Wait()

	if len(legResults) == 0 {
		var firstErr error
		for _, err := range legErrs {
			firstErr = err
			break
		}
		return nil, common.Wrap(common.KindTransientIO, "all search legs failed", firstErr)
	}
	for leg, err := range legErrs {
		common.Logger.WithError(err).WithField("leg", leg).Warn("search leg degraded")
	}

	fused := fuseRRF(legResults, limit)
	return fused, nil
}

// fuseRRF merges per-leg rankings with reciprocal rank fusion and truncates
// to limit.
func fuseRRF(legResults map[string][]SearchResult, limit int) []SearchResult {
	type agg struct {
		result SearchResult
		score  float64
	}
	byEpisode := map[string]*agg{}

	// Iterate legs in fixed order so fusion is deterministic.
	for _, leg := range []string{LegVector, LegFulltext, LegGraph} {
		for rank, r := range legResults[leg] {
			contribution := 1.0 / float64(rrfK+rank+1)
			entry, ok := byEpisode[r.EpisodeUUID]
			if !ok {
				r.Legs = []string{leg}
				byEpisode[r.EpisodeUUID] = &agg{result: r, score: contribution}
				continue
			}
			entry.score += contribution
			entry.result.Legs = append(entry.result.Legs, leg)
		}
	}

	fused := make([]SearchResult, 0, len(byEpisode))
	for _, entry := range byEpisode {
		entry.result.Score = entry.score
		fused = append(fused, entry.result)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].EpisodeUUID < fused[j].EpisodeUUID
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

func (g *GraphStore) vectorLeg(ctx context.Context, groupID string, vec []float32, limit int) ([]SearchResult, error) {
	result, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			CALL db.index.vector.queryNodes('episode_embedding', $k, $vec)
			YIELD node, score
			WHERE node.group_id = $group
			RETURN node.uuid AS uuid, node.body AS body, node.document_id AS doc,
			       node.chunk_id AS chunk, node.source_description AS src, score
			ORDER BY score DESC`,
			map[string]interface{}{"k": limit * 2, "vec": vec, "group": groupID})
		if err != nil {
			return nil, err
		}
		return collectResults(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchResult), nil
}

func (g *GraphStore) fulltextLeg(ctx context.Context, groupID, query string, limit int) ([]SearchResult, error) {
	result, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			CALL db.index.fulltext.queryNodes('episode_body', $query, {limit: $k})
			YIELD node, score
			WHERE node.group_id = $group
			RETURN node.uuid AS uuid, node.body AS body, node.document_id AS doc,
			       node.chunk_id AS chunk, node.source_description AS src, score`,
			map[string]interface{}{"query": escapeLucene(query), "k": limit * 2, "group": groupID})
		if err != nil {
			return nil, err
		}
		return collectResults(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchResult), nil
}

// graphLeg finds entities matching the query, walks their valid fact edges,
// and returns the episodes those facts came from.
func (g *GraphStore) graphLeg(ctx context.Context, groupID, query string, limit int) ([]SearchResult, error) {
	result, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			CALL db.index.fulltext.queryNodes('entity_name', $query, {limit: 10})
			YIELD node AS entity, score AS entityScore
			WHERE entity.group_id = $group
			MATCH (entity)-[r:FACT]-()
			WHERE r.invalid_at IS NULL
			MATCH (e:Episode {uuid: r.episode_id})
			RETURN DISTINCT e.uuid AS uuid, e.body AS body, e.document_id AS doc,
			       e.chunk_id AS chunk, e.source_description AS src,
			       entityScore * r.confidence AS score
			ORDER BY score DESC LIMIT $k`,
			map[string]interface{}{"query": escapeLucene(query), "group": groupID, "k": limit * 2})
		if err != nil {
			return nil, err
		}
		return collectResults(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchResult), nil
}

func collectResults(ctx context.Context, res neo4j.ResultWithContext) ([]SearchResult, error) {
	var out []SearchResult
	for res.Next(ctx) {
		rec := res.Record()
		r := SearchResult{}
		if v, ok := rec.Get("uuid"); ok && v != nil {
			r.EpisodeUUID = v.(string)
		}
		if v, ok := rec.Get("body"); ok && v != nil {
			r.Body = v.(string)
		}
		if v, ok := rec.Get("doc"); ok && v != nil {
			r.DocumentID = v.(string)
		}
		if v, ok := rec.Get("chunk"); ok && v != nil {
			r.ChunkID = v.(string)
		}
		if v, ok := rec.Get("src"); ok && v != nil {
			r.SourceDesc = v.(string)
		}
		if v, ok := rec.Get("score"); ok && v != nil {
			if f, ok := v.(float64); ok {
				r.Score = f
			}
		}
		out = append(out, r)
	}
	return out, res.Err()
}

// escapeLucene neutralizes fulltext query syntax in user input.
var luceneSpecials = `+-&|!(){}[]^"~*?:\/`

func escapeLucene(q string) string {
	out := make([]rune, 0, len(q))
	for _, r := range q {
		for _, s := range luceneSpecials {
			if r == s {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, r)
	}
	return string(out)
}
