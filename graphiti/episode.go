package graphiti

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"dealgraph.org/common"
)

// AddEpisode ingests one episode with its extraction: the episode node, its
// entities resolved against the existing graph, and fact edges with
// supersession of contradicted facts. Idempotent by content hash: the same
// chunk content ingested twice returns the original episode uuid.
func (g *GraphStore) AddEpisode(ctx context.Context, ep Episode, ext Extraction) (string, error) {
	if err := requireGroup(ep.GroupID); err != nil {
		return "", err
	}
	if ep.ContentHash == "" {
		ep.ContentHash = common.ContentHash(ep.GroupID, ep.Body)
	}
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	if ep.ValidAt.IsZero() {
		ep.ValidAt = ep.CreatedAt
	}

	result, err := g.write(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		// Dedup check inside the transaction.
		existing, err := tx.Run(ctx, `
			MATCH (e:Episode {group_id: $group, content_hash: $hash})
			RETURN e.uuid AS uuid LIMIT 1`,
			map[string]interface{}{"group": ep.GroupID, "hash": ep.ContentHash})
		if err != nil {
			return nil, err
		}
		if existing.Next(ctx) {
			uuidVal, _ := existing.Record().Get("uuid")
			return uuidVal, nil
		}

		if _, err := tx.Run(ctx, `
			CREATE (e:Episode {
				uuid: $uuid, group_id: $group, body: $body, source: $source,
				source_description: $source_desc, document_id: $document_id,
				chunk_id: $chunk_id, content_hash: $hash, embedding: $embedding,
				valid_at: $valid_at, created_at: $created_at
			})`,
			map[string]interface{}{
				"uuid": ep.UUID, "group": ep.GroupID, "body": ep.Body,
				"source": ep.Source, "source_desc": ep.SourceDesc,
				"document_id": ep.DocumentID, "chunk_id": ep.ChunkID,
				"hash": ep.ContentHash, "embedding": ep.Embedding,
				"valid_at": ep.ValidAt, "created_at": ep.CreatedAt,
			}); err != nil {
			return nil, err
		}

		entityUUIDs := make(map[string]string, len(ext.Entities))
		for _, cand := range ext.Entities {
			entityUUID, err := g.resolveEntity(ctx, tx, ep.GroupID, cand)
			if err != nil {
				return nil, err
			}
			entityUUIDs[cand.Name] = entityUUID
			if _, err := tx.Run(ctx, `
				MATCH (e:Episode {uuid: $ep}), (n:Entity {uuid: $entity})
				MERGE (e)-[:MENTIONS]->(n)`,
				map[string]interface{}{"ep": ep.UUID, "entity": entityUUID}); err != nil {
				return nil, err
			}
		}

		for _, fact := range ext.Facts {
			if err := g.addFact(ctx, tx, ep, entityUUIDs, fact); err != nil {
				return nil, err
			}
		}
		return ep.UUID, nil
	})
	if err != nil {
		return "", common.Wrap(common.KindTransientIO, "failed to add episode", err)
	}
	out, _ := result.(string)
	return out, nil
}

// resolveEntity finds an existing entity for the candidate via name-vector
// similarity, or creates a new node. Matches at or above the merge threshold
// reuse the node and refresh its summary.
func (g *GraphStore) resolveEntity(ctx context.Context, tx neo4j.ManagedTransaction, groupID string, cand ExtractedEntity) (string, error) {
	if len(cand.NameEmbedding) > 0 {
		res, err := tx.Run(ctx, `
			CALL db.index.vector.queryNodes('entity_name_embedding', 5, $vec)
			YIELD node, score
			WHERE node.group_id = $group AND score >= $threshold
			RETURN node.uuid AS uuid
			ORDER BY score DESC LIMIT 1`,
			map[string]interface{}{
				"vec": cand.NameEmbedding, "group": groupID, "threshold": g.mergeThreshold,
			})
		if err != nil {
			return "", err
		}
		if res.Next(ctx) {
			uuidVal, _ := res.Record().Get("uuid")
			matched := uuidVal.(string)
			// Refresh the summary; the newest description tends to be the
			// most complete.
			if cand.Summary != "" {
				if _, err := tx.Run(ctx, `
					MATCH (n:Entity {uuid: $uuid}) SET n.summary = $summary`,
					map[string]interface{}{"uuid": matched, "summary": cand.Summary}); err != nil {
					return "", err
				}
			}
			return matched, nil
		}
	}

	// Exact-name fallback covers entities ingested before embeddings.
	res, err := tx.Run(ctx, `
		MATCH (n:Entity {group_id: $group})
		WHERE toLower(n.name) = toLower($name)
		RETURN n.uuid AS uuid LIMIT 1`,
		map[string]interface{}{"group": groupID, "name": cand.Name})
	if err != nil {
		return "", err
	}
	if res.Next(ctx) {
		uuidVal, _ := res.Record().Get("uuid")
		return uuidVal.(string), nil
	}

	newUUID := uuid.NewString()
	_, err = tx.Run(ctx, `
		CREATE (n:Entity {
			uuid: $uuid, group_id: $group, name: $name, summary: $summary,
			labels: $labels, name_embedding: $embedding, created_at: datetime()
		})`,
		map[string]interface{}{
			"uuid": newUUID, "group": groupID, "name": cand.Name,
			"summary": cand.Summary, "labels": cand.Labels, "embedding": cand.NameEmbedding,
		})
	return newUUID, err
}

// addFact creates the fact edge and supersedes any currently-valid edge with
// the same subject, object, and predicate but a different fact string. The
// newer fact wins regardless of confidence; disagreement between sources is
// surfaced through contradiction findings, not silent keeps.
func (g *GraphStore) addFact(ctx context.Context, tx neo4j.ManagedTransaction, ep Episode, entityUUIDs map[string]string, fact ExtractedFact) error {
	subj, ok := entityUUIDs[fact.SubjectName]
	if !ok {
		return common.Ef(common.KindProviderContract, "fact references unknown entity %q", fact.SubjectName)
	}
	obj, ok := entityUUIDs[fact.ObjectName]
	if !ok {
		return common.Ef(common.KindProviderContract, "fact references unknown entity %q", fact.ObjectName)
	}

	validAt := fact.ValidAt
	if validAt.IsZero() {
		validAt = ep.ValidAt
	}

	// Supersession: close out the previously valid version of this fact.
	if _, err := tx.Run(ctx, `
		MATCH (s:Entity {uuid: $subj})-[r:FACT {name: $name, group_id: $group}]->(o:Entity {uuid: $obj})
		WHERE r.invalid_at IS NULL AND r.fact <> $fact
		SET r.invalid_at = $valid_at, r.expired_at = datetime()`,
		map[string]interface{}{
			"subj": subj, "obj": obj, "name": fact.Predicate,
			"group": ep.GroupID, "fact": fact.Fact, "valid_at": validAt,
		}); err != nil {
		return err
	}

	// Same fact re-stated: just link the episode, keep one edge.
	res, err := tx.Run(ctx, `
		MATCH (s:Entity {uuid: $subj})-[r:FACT {name: $name, group_id: $group}]->(o:Entity {uuid: $obj})
		WHERE r.invalid_at IS NULL AND r.fact = $fact
		SET r.confidence = $confidence, r.episode_id = $episode
		RETURN r.uuid AS uuid LIMIT 1`,
		map[string]interface{}{
			"subj": subj, "obj": obj, "name": fact.Predicate, "group": ep.GroupID,
			"fact": fact.Fact, "confidence": CalibrateConfidence(ep.Source),
			"episode": ep.UUID,
		})
	if err != nil {
		return err
	}
	if res.Next(ctx) {
		return nil
	}

	_, err = tx.Run(ctx, `
		MATCH (s:Entity {uuid: $subj}), (o:Entity {uuid: $obj})
		CREATE (s)-[:FACT {
			uuid: $uuid, group_id: $group, name: $name, fact: $fact,
			confidence: $confidence, method: $method, valid_at: $valid_at,
			invalid_at: NULL, created_at: datetime(), expired_at: NULL,
			episode_id: $episode
		}]->(o)`,
		map[string]interface{}{
			"uuid": uuid.NewString(), "group": ep.GroupID, "subj": subj, "obj": obj,
			"name": fact.Predicate, "fact": fact.Fact,
			"confidence": CalibrateConfidence(ep.Source), "method": fact.Method,
			"valid_at": validAt, "episode": ep.UUID,
		})
	return err
}

// InvalidateEdge marks a fact edge invalid as of the given time. Used by the
// correction cascade when an analyst retracts a fact.
func (g *GraphStore) InvalidateEdge(ctx context.Context, groupID, edgeUUID string, invalidAt time.Time) error {
	if err := requireGroup(groupID); err != nil {
		return err
	}
	result, err := g.write(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH ()-[r:FACT {uuid: $uuid, group_id: $group}]->()
			WHERE r.invalid_at IS NULL
			SET r.invalid_at = $invalid_at, r.expired_at = datetime()
			RETURN count(r) AS n`,
			map[string]interface{}{"uuid": edgeUUID, "group": groupID, "invalid_at": invalidAt})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		return n, nil
	})
	if err != nil {
		return common.Wrap(common.KindTransientIO, "failed to invalidate edge", err)
	}
	if n, _ := result.(int64); n == 0 {
		return common.E(common.KindNotFound, "fact edge not found or already invalid")
	}
	return nil
}

// InvalidateByEpisodes invalidates all currently-valid facts created from
// the given episodes. Used when a document's findings are retracted.
func (g *GraphStore) InvalidateByEpisodes(ctx context.Context, groupID string, episodeUUIDs []string) (int64, error) {
	if err := requireGroup(groupID); err != nil {
		return 0, err
	}
	if len(episodeUUIDs) == 0 {
		return 0, nil
	}
	result, err := g.write(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH ()-[r:FACT {group_id: $group}]->()
			WHERE r.episode_id IN $episodes AND r.invalid_at IS NULL
			SET r.invalid_at = datetime(), r.expired_at = datetime()
			RETURN count(r) AS n`,
			map[string]interface{}{"group": groupID, "episodes": episodeUUIDs})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, common.Wrap(common.KindTransientIO, "failed to invalidate episode facts", err)
	}
	n, _ := result.(int64)
	return n, nil
}

// MergeEntities folds duplicate into canonical: re-points mentions and fact
// edges, then removes the duplicate node.
func (g *GraphStore) MergeEntities(ctx context.Context, groupID, canonicalUUID, duplicateUUID string) error {
	if err := requireGroup(groupID); err != nil {
		return err
	}
	if canonicalUUID == duplicateUUID {
		return common.E(common.KindValidation, "cannot merge an entity into itself")
	}
	_, err := g.write(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		queries := []string{
			`MATCH (e:Episode)-[m:MENTIONS]->(d:Entity {uuid: $dup, group_id: $group})
			 MATCH (c:Entity {uuid: $canon, group_id: $group})
			 MERGE (e)-[:MENTIONS]->(c)
			 DELETE m`,
			`MATCH (d:Entity {uuid: $dup, group_id: $group})-[r:FACT]->(o)
			 MATCH (c:Entity {uuid: $canon, group_id: $group})
			 CREATE (c)-[nr:FACT]->(o)
			 SET nr = properties(r)
			 DELETE r`,
			`MATCH (s)-[r:FACT]->(d:Entity {uuid: $dup, group_id: $group})
			 MATCH (c:Entity {uuid: $canon, group_id: $group})
			 CREATE (s)-[nr:FACT]->(c)
			 SET nr = properties(r)
			 DELETE r`,
			`MATCH (d:Entity {uuid: $dup, group_id: $group})
			 DETACH DELETE d`,
		}
		params := map[string]interface{}{"dup": duplicateUUID, "canon": canonicalUUID, "group": groupID}
		for _, q := range queries {
			if _, err := tx.Run(ctx, q, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return common.Wrap(common.KindTransientIO, "failed to merge entities", err)
	}
	return nil
}
