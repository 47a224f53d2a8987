// Package graphiti implements the temporal knowledge graph store: episodes,
// entities, and bi-temporal fact edges in Neo4j, with hybrid search across
// vector, fulltext, and graph legs.
//
// Every node and relationship carries a group_id of the form "{org}:{deal}".
// Operations take the group id explicitly and refuse to run without one;
// there is no cross-group query path.
package graphiti

import (
	"time"
)

// Episode sources, in decreasing confidence order. An analyst stating a fact
// outranks what a document claims; a derived contradiction record ranks last.
const (
	SourceAnalystChat   = "analyst_chat"
	SourceDocument      = "document"
	SourceContradiction = "contradiction"
)

// Extraction methods, recorded on facts for provenance.
const (
	MethodExplicit = "explicit" // stated verbatim in the source
	MethodInferred = "inferred" // model inference from context
	MethodDerived  = "derived"  // computed from other facts
)

// CalibrateConfidence maps an episode source to the base confidence of facts
// extracted from it. Unknown sources get the contradiction floor.
func CalibrateConfidence(source string) float64 {
	switch source {
	case SourceAnalystChat:
		return 0.95
	case SourceDocument:
		return 0.85
	default:
		return 0.80
	}
}

// Episode is a unit of ingested knowledge: one chunk or one conversation
// write-back, with provenance and an embedding for vector search.
type Episode struct {
	UUID       string
	GroupID    string
	Body       string
	Source     string // document, analyst_chat, contradiction
	SourceDesc string
	DocumentID string
	ChunkID    string
	// ContentHash deduplicates: re-ingesting the same chunk content is a
	// no-op returning the existing episode.
	ContentHash string
	Embedding   []float32
	ValidAt     time.Time
	CreatedAt   time.Time
}

// Entity is a resolved node in the graph.
type Entity struct {
	UUID          string
	GroupID       string
	Name          string
	Summary       string
	Labels        []string
	NameEmbedding []float32
}

// FactEdge is a bi-temporal relationship between two entities. ValidAt and
// InvalidAt track when the fact held in the world; CreatedAt and ExpiredAt
// track when the system learned and retracted it.
type FactEdge struct {
	UUID       string
	GroupID    string
	SourceUUID string
	TargetUUID string
	Name       string // predicate, e.g. HAS_REVENUE, ACQUIRED
	Fact       string // full sentence form
	Confidence float64
	ValidAt    time.Time
	InvalidAt  *time.Time
	CreatedAt  time.Time
	ExpiredAt  *time.Time
	EpisodeID  string
}

// ExtractedEntity is a candidate entity from the extraction stage, before
// resolution against the existing graph.
type ExtractedEntity struct {
	Name          string
	Summary       string
	Labels        []string
	NameEmbedding []float32
}

// ExtractedFact is a candidate relationship between two extracted entities,
// referenced by name.
type ExtractedFact struct {
	SubjectName string
	ObjectName  string
	Predicate   string
	Fact        string
	Method      string
	// ValidAt is when the fact held; zero means the episode's ValidAt.
	ValidAt time.Time
}

// Extraction is the full output of entity/fact extraction for one episode.
type Extraction struct {
	Entities []ExtractedEntity
	Facts    []ExtractedFact
}

// SearchResult is one hybrid search hit with provenance for citations.
type SearchResult struct {
	EpisodeUUID string
	Body        string
	Score       float64
	DocumentID  string
	ChunkID     string
	SourceDesc  string
	// Legs records which search legs returned this hit.
	Legs []string
}
