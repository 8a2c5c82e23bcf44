package store

import (
	"context"
	"time"

	"github.com/chronoquery/chronoquery/pkg/types"
)

// EntityRecord is a canonical entity row from the event store.
type EntityRecord struct {
	ID            string
	Name          string
	CanonicalName string
	EntityType    string
	Aliases       []string
	// Score is the embedding similarity for SearchEntitiesByEmbedding
	// results, 0 for candidate lookups.
	Score float64
}

// ScoredEvent pairs an evidence item with its vector similarity score.
type ScoredEvent struct {
	Event types.EvidenceItem
	Score float64
}

// ListEventsParams narrows a chronological event scan.
type ListEventsParams struct {
	EntityID string
	From     *time.Time // nil means open
	To       *time.Time
	Limit    int
	Offset   int
}

// EventStore is the read interface over the Postgres event store.
type EventStore interface {
	// GetEvent fetches a single event by ID.
	GetEvent(ctx context.Context, id string) (*types.EvidenceItem, error)

	// ListEvents returns events in chronological order, optionally
	// narrowed to an entity and a time window.
	ListEvents(ctx context.Context, params ListEventsParams) ([]types.EvidenceItem, error)

	// SimilaritySearch returns the events nearest to vector by cosine
	// similarity, filtered to scores >= minScore. A non-empty entityID
	// restricts results to events involving that entity.
	SimilaritySearch(ctx context.Context, vector []float32, limit int, minScore float64, entityID string) ([]ScoredEvent, error)

	// CandidateEntities returns entities whose name, canonical name, or
	// alias contains the mention, case-insensitively.
	CandidateEntities(ctx context.Context, mention string, limit int) ([]EntityRecord, error)

	// SearchEntitiesByEmbedding returns entities nearest to vector by
	// cosine similarity of their name embeddings.
	SearchEntitiesByEmbedding(ctx context.Context, vector []float32, limit int) ([]EntityRecord, error)

	// FetchDocuments resolves document IDs to source references.
	FetchDocuments(ctx context.Context, ids []string) ([]types.SourceReference, error)

	// ExecuteQuery runs validated generated SQL and scans rows into
	// evidence items by canonical column aliases.
	ExecuteQuery(ctx context.Context, query string, args []any) ([]types.EvidenceItem, error)

	// Close releases the connection pool.
	Close() error
}

// GraphStore is the read interface over the Neo4j causal graph.
type GraphStore interface {
	// CausalChain traverses CAUSES edges from the given event up to
	// maxHops in the given direction, returning visited events with
	// their hop distance.
	CausalChain(ctx context.Context, eventID string, direction types.Direction, maxHops int) ([]types.EvidenceItem, error)

	// EntitySubgraph returns events involving the entity together with
	// their one-hop causal neighbors.
	EntitySubgraph(ctx context.Context, entityID string, maxEvents int) ([]types.EvidenceItem, error)

	// ExecuteCypher runs validated generated Cypher and scans records
	// into evidence items by canonical aliases.
	ExecuteCypher(ctx context.Context, query string, params map[string]any) ([]types.EvidenceItem, error)

	// Close shuts down the driver.
	Close(ctx context.Context) error
}
