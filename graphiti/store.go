package graphiti

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"dealgraph.org/common"
)

// GraphStore wraps the Neo4j driver for all knowledge graph operations.
type GraphStore struct {
	driver neo4j.DriverWithContext
	// mergeThreshold is the cosine similarity above which an extracted
	// entity resolves to an existing one instead of creating a node.
	mergeThreshold float64
}

// NewGraphStore connects and verifies connectivity.
func NewGraphStore(ctx context.Context, uri, username, password string, mergeThreshold float64) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	if mergeThreshold <= 0 || mergeThreshold > 1 {
		mergeThreshold = 0.85
	}
	return &GraphStore{driver: driver, mergeThreshold: mergeThreshold}, nil
}

// Close releases the driver.
func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// indexStatements are idempotent; vector dimensions follow the embedding
// config default.
var indexStatements = []string{
	`CREATE CONSTRAINT episode_uuid IF NOT EXISTS FOR (e:Episode) REQUIRE e.uuid IS UNIQUE`,
	`CREATE CONSTRAINT entity_uuid IF NOT EXISTS FOR (n:Entity) REQUIRE n.uuid IS UNIQUE`,
	`CREATE INDEX episode_group IF NOT EXISTS FOR (e:Episode) ON (e.group_id)`,
	`CREATE INDEX episode_hash IF NOT EXISTS FOR (e:Episode) ON (e.group_id, e.content_hash)`,
	`CREATE INDEX entity_group IF NOT EXISTS FOR (n:Entity) ON (n.group_id)`,
	`CREATE FULLTEXT INDEX episode_body IF NOT EXISTS FOR (e:Episode) ON EACH [e.body]`,
	`CREATE FULLTEXT INDEX entity_name IF NOT EXISTS FOR (n:Entity) ON EACH [n.name, n.summary]`,
	`CREATE VECTOR INDEX episode_embedding IF NOT EXISTS FOR (e:Episode) ON (e.embedding)
	 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1536, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
	`CREATE VECTOR INDEX entity_name_embedding IF NOT EXISTS FOR (n:Entity) ON (n.name_embedding)
	 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1536, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
}

// EnsureIndexes creates constraints and indexes if missing.
func (g *GraphStore) EnsureIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, stmt := range indexStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// requireGroup rejects operations without a tenant scope. A missing group id
// would make a query span every deal in the store.
func requireGroup(groupID string) error {
	if _, _, ok := common.SplitGroupID(groupID); !ok {
		return common.E(common.KindValidation, "group id must be org:deal")
	}
	return nil
}

func (g *GraphStore) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) (interface{}, error)) (interface{}, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

func (g *GraphStore) read(ctx context.Context, work func(tx neo4j.ManagedTransaction) (interface{}, error)) (interface{}, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

// DeleteGroup removes every node and relationship for a deal. Used by the
// deal deletion cascade.
func (g *GraphStore) DeleteGroup(ctx context.Context, groupID string) (int64, error) {
	if err := requireGroup(groupID); err != nil {
		return 0, err
	}
	result, err := g.write(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (n {group_id: $group})
			DETACH DELETE n
			RETURN count(n) AS deleted`,
			map[string]interface{}{"group": groupID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		deleted, _ := record.Get("deleted")
		return deleted, nil
	})
	if err != nil {
		return 0, common.Wrap(common.KindTransientIO, "failed to delete graph group", err)
	}
	n, _ := result.(int64)
	return n, nil
}

// EpisodeCount returns the number of episodes in a group, for health checks
// and ingestion verification.
func (g *GraphStore) EpisodeCount(ctx context.Context, groupID string) (int64, error) {
	if err := requireGroup(groupID); err != nil {
		return 0, err
	}
	result, err := g.read(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {group_id: $group})
			RETURN count(e) AS n`,
			map[string]interface{}{"group": groupID})
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
		return 0, common.Wrap(common.KindTransientIO, "failed to count episodes", err)
	}
	n, _ := result.(int64)
	return n, nil
}
