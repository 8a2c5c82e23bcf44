package types

import "fmt"

// PlanKind tags the active variant of a QueryPlan. There is exactly one
// kind per intent; adding an intent means adding a kind here and a case
// in the planner registry.
type PlanKind string

const (
	PlanCausal         PlanKind = "causal"
	PlanTemporal       PlanKind = "temporal"
	PlanSimilarity     PlanKind = "similarity"
	PlanEntityTimeline PlanKind = "entity_timeline"
)

// Direction is the causal traversal direction.
type Direction string

const (
	// DirectionUpstream walks CAUSES edges backward from effect to
	// cause, the "why" direction.
	DirectionUpstream Direction = "upstream"
	// DirectionDownstream walks CAUSES edges forward from cause to
	// effect.
	DirectionDownstream Direction = "downstream"
	// DirectionBoth traverses in both directions.
	DirectionBoth Direction = "both"
)

// CausalPlan describes a bounded causal-graph traversal.
type CausalPlan struct {
	// AnchorEntityID is the resolved entity to anchor the traversal on,
	// empty when seeding from events instead.
	AnchorEntityID string
	// SeedEventIDs are events to start traversal from when no entity
	// anchor resolved, found by question-embedding similarity.
	SeedEventIDs []string
	MaxHops      int
	Direction    Direction
}

// TemporalPlan describes a paginated range scan over the event store.
type TemporalPlan struct {
	Range    TimeRange
	EntityID string // optional narrowing filter
	PageSize int
}

// SimilarityPlan describes a top-k nearest-neighbor search over event
// embeddings.
type SimilarityPlan struct {
	Vector   []float32
	TopK     int
	MinScore float64 // results below this similarity floor are discarded
	EntityID string  // optional post-filter
	Range    *TimeRange
}

// EntityTimelinePlan describes the merged strategy: a chronological range
// scan and a causal-subgraph lookup for the same entity, executed
// concurrently and joined before synthesis.
type EntityTimelinePlan struct {
	EntityID string
	Range    TimeRange
	Limit    int
}

// QueryPlan is a tagged variant with one case per intent. Exactly one
// variant is populated; planners never partially fill multiple variants.
type QueryPlan struct {
	Kind       PlanKind
	Confidence float64 // planner-level confidence estimate

	Causal         *CausalPlan
	Temporal       *TemporalPlan
	Similarity     *SimilarityPlan
	EntityTimeline *EntityTimelinePlan
}

// Validate checks that exactly one variant is set and that it matches the
// declared kind.
func (p *QueryPlan) Validate() error {
	var set int
	if p.Causal != nil {
		set++
	}
	if p.Temporal != nil {
		set++
	}
	if p.Similarity != nil {
		set++
	}
	if p.EntityTimeline != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("query plan must have exactly one variant, got %d", set)
	}
	switch p.Kind {
	case PlanCausal:
		if p.Causal == nil {
			return fmt.Errorf("plan kind %s has no matching variant", p.Kind)
		}
	case PlanTemporal:
		if p.Temporal == nil {
			return fmt.Errorf("plan kind %s has no matching variant", p.Kind)
		}
	case PlanSimilarity:
		if p.Similarity == nil {
			return fmt.Errorf("plan kind %s has no matching variant", p.Kind)
		}
	case PlanEntityTimeline:
		if p.EntityTimeline == nil {
			return fmt.Errorf("plan kind %s has no matching variant", p.Kind)
		}
	default:
		return fmt.Errorf("unknown plan kind %q", p.Kind)
	}
	return nil
}

// StoreTarget identifies which collaborator a generated query runs
// against.
type StoreTarget string

const (
	TargetEventStore StoreTarget = "event_store"
	TargetGraphStore StoreTarget = "graph_store"
)

// QueryOp is the concrete operation a GeneratedQuery performs.
type QueryOp string

const (
	// OpSQL is an LLM-generated, validated SQL text run against the
	// event store.
	OpSQL QueryOp = "sql"
	// OpCypher is an LLM-generated, validated Cypher text run against
	// the graph store.
	OpCypher QueryOp = "cypher"
	// OpVector is a structured nearest-neighbor query; no LLM text
	// generation is involved.
	OpVector QueryOp = "vector"
	// OpListEvents is a structured chronological scan over the event
	// store, narrowed by entity and time window.
	OpListEvents QueryOp = "list_events"
	// OpSubgraph is a structured lookup of an entity's events together
	// with their one-hop causal neighbors.
	OpSubgraph QueryOp = "subgraph"
	// OpChain is a structured causal traversal from a seed event with a
	// hop bound and direction.
	OpChain QueryOp = "chain"
)

// GeneratedQuery is a concrete, executable store query. Queries produced
// by LLM generation start invalid and become valid only after passing the
// syntax/schema gate; unvalidated text never reaches a store.
type GeneratedQuery struct {
	Target StoreTarget
	Op     QueryOp

	// Text and Args carry SQL with $1..$n positional placeholders.
	// Text and Params carry Cypher with $name placeholders.
	Text   string
	Args   []any
	Params map[string]any

	// Structured-op fields. Vector queries use Vector, TopK, and
	// MinScore; list and subgraph ops use EntityID, Range, and Limit;
	// chain ops use EventID, Direction, and MaxHops.
	Vector    []float32
	TopK      int
	MinScore  float64
	EntityID  string
	Range     *TimeRange
	Limit     int
	EventID   string
	Direction Direction
	MaxHops   int

	Valid    bool
	Attempts int
}
