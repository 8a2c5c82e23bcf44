// Package planner turns a classified question into an abstract query
// plan. A router dispatches on intent to one of four planners, each
// filling exactly one QueryPlan variant.
package planner

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/embedder"
	"github.com/chronoquery/chronoquery/pkg/store"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Input carries everything the upstream stages produced for a question.
type Input struct {
	Question      types.Question
	Intent        types.IntentResult
	Range         types.TimeRange
	Entities      []types.ResolvedEntity
	CorrelationID string
}

// Planner produces a query plan for one intent.
type Planner interface {
	Plan(ctx context.Context, in Input) (*types.QueryPlan, error)
}

// Router holds a fixed registry of planners keyed by intent.
type Router struct {
	planners map[types.Intent]Planner
	logger   *slog.Logger
}

// NewRouter wires the four planners against the given collaborators.
func NewRouter(eventStore store.EventStore, embed embedder.Client, cfg config.QueryConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		planners: map[types.Intent]Planner{
			types.IntentCausalWhy: &CausalPlanner{
				eventStore:     eventStore,
				embedder:       embed,
				defaultMaxHops: cfg.DefaultMaxHops,
				maxHopLimit:    cfg.MaxHopLimit,
				seedLimit:      cfg.SeedLimit,
				seedMinScore:   cfg.SeedMinScore,
				logger:         logger,
			},
			types.IntentTemporalRange: &TemporalPlanner{
				pageSize: cfg.TemporalPageSize,
			},
			types.IntentSimilarity: &SimilarityPlanner{
				embedder: embed,
				topK:     cfg.SimilarityTopK,
				minScore: cfg.SimilarityMinScore,
			},
			types.IntentEntityTimeline: &EntityTimelinePlanner{
				limit: cfg.TemporalPageSize,
			},
		},
		logger: logger,
	}
}

// Plan dispatches to the planner registered for the input's intent.
func (r *Router) Plan(ctx context.Context, in Input) (*types.QueryPlan, error) {
	p, ok := r.planners[in.Intent.Intent]
	if !ok {
		return nil, types.NewQueryError(types.KindInvalidRequest, "no planner registered for intent %q", in.Intent.Intent)
	}
	plan, err := p.Plan(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, types.WrapQueryError(types.KindInvalidRequest, err, "planner produced invalid plan")
	}
	r.logger.Debug("plan produced", "intent", in.Intent.Intent, "kind", plan.Kind, "correlation_id", in.CorrelationID)
	return plan, nil
}

// anchorEntity picks the anchor from resolved entities: highest score
// wins, exact score ties go to the mention nearest the end of the
// question text, then to the lexicographically smaller ID.
func anchorEntity(entities []types.ResolvedEntity) *types.ResolvedEntity {
	var best *types.ResolvedEntity
	for i := range entities {
		e := &entities[i]
		if best == nil {
			best = e
			continue
		}
		switch {
		case e.Score > best.Score:
			best = e
		case e.Score == best.Score && e.MentionOffset > best.MentionOffset:
			best = e
		case e.Score == best.Score && e.MentionOffset == best.MentionOffset && e.ID < best.ID:
			best = e
		}
	}
	return best
}

// forwardCausationRe marks questions that ask about effects rather than
// causes, which flips the traversal to the downstream direction.
var forwardCausationRe = regexp.MustCompile(`(?i)\b(effects?\s+of|impact\s+of|consequences?\s+of|led\s+to|lead\s+to|result(?:ed)?\s+in|what\s+happened\s+(?:because|as\s+a\s+result)\s+of)\b`)

// CausalPlanner anchors a bounded causal traversal on the best resolved
// entity, or on seed events found by question-embedding similarity when
// no entity resolved.
type CausalPlanner struct {
	eventStore     store.EventStore
	embedder       embedder.Client
	defaultMaxHops int
	maxHopLimit    int
	seedLimit      int
	seedMinScore   float64
	logger         *slog.Logger
}

func (p *CausalPlanner) Plan(ctx context.Context, in Input) (*types.QueryPlan, error) {
	hops := in.Question.MaxCausalHops
	if hops < 0 {
		return nil, types.NewQueryError(types.KindInvalidRequest, "max_causal_hops must be non-negative, got %d", hops)
	}
	if hops == 0 {
		hops = p.defaultMaxHops
	}
	if hops > p.maxHopLimit {
		hops = p.maxHopLimit
	}

	direction := types.DirectionUpstream
	if forwardCausationRe.MatchString(in.Question.Text) {
		direction = types.DirectionDownstream
	}

	plan := &types.CausalPlan{
		MaxHops:   hops,
		Direction: direction,
	}

	if anchor := anchorEntity(in.Entities); anchor != nil {
		plan.AnchorEntityID = anchor.ID
	} else {
		seeds, err := p.seedEvents(ctx, in.Question.Text)
		if err != nil {
			return nil, err
		}
		if len(seeds) == 0 {
			return nil, types.NewQueryError(types.KindEntityNotFound, "no entity or similar events found to anchor the causal traversal")
		}
		plan.SeedEventIDs = seeds
	}

	return &types.QueryPlan{
		Kind:       types.PlanCausal,
		Confidence: in.Intent.Confidence,
		Causal:     plan,
	}, nil
}

// seedEvents finds traversal entry points by embedding the question and
// taking the nearest events above the seed score floor.
func (p *CausalPlanner) seedEvents(ctx context.Context, question string) ([]string, error) {
	if p.embedder == nil {
		return nil, nil
	}
	vector, err := p.embedder.EmbedSingle(ctx, question)
	if err != nil {
		return nil, types.WrapQueryError(types.KindStoreUnavailable, err, "question embedding failed")
	}
	scored, err := p.eventStore.SimilaritySearch(ctx, vector, p.seedLimit, p.seedMinScore, "")
	if err != nil {
		return nil, types.WrapQueryError(types.KindStoreUnavailable, err, "seed event search failed")
	}
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Event.ID)
	}
	return ids, nil
}

// TemporalPlanner produces a paginated range scan. A fully unbounded
// range with no entity filter would scan the whole store and is refused.
type TemporalPlanner struct {
	pageSize int
}

func (p *TemporalPlanner) Plan(ctx context.Context, in Input) (*types.QueryPlan, error) {
	anchor := anchorEntity(in.Entities)
	if in.Range.Unbounded() && anchor == nil {
		return nil, types.NewQueryError(types.KindUnboundedScope, "time range is unbounded and no entity filter narrows the scan")
	}
	plan := &types.TemporalPlan{
		Range:    in.Range,
		PageSize: p.pageSize,
	}
	if anchor != nil {
		plan.EntityID = anchor.ID
	}
	return &types.QueryPlan{
		Kind:       types.PlanTemporal,
		Confidence: in.Intent.Confidence,
		Temporal:   plan,
	}, nil
}

// SimilarityPlanner embeds the question and produces a top-k
// nearest-neighbor plan with a minimum similarity floor.
type SimilarityPlanner struct {
	embedder embedder.Client
	topK     int
	minScore float64
}

func (p *SimilarityPlanner) Plan(ctx context.Context, in Input) (*types.QueryPlan, error) {
	if p.embedder == nil {
		return nil, types.NewQueryError(types.KindStoreUnavailable, "no embedding service configured for similarity search")
	}
	vector, err := p.embedder.EmbedSingle(ctx, in.Question.Text)
	if err != nil {
		return nil, types.WrapQueryError(types.KindStoreUnavailable, err, "question embedding failed")
	}
	plan := &types.SimilarityPlan{
		Vector:   vector,
		TopK:     p.topK,
		MinScore: p.minScore,
	}
	if anchor := anchorEntity(in.Entities); anchor != nil {
		plan.EntityID = anchor.ID
	}
	if !in.Range.Unbounded() {
		rng := in.Range
		plan.Range = &rng
	}
	return &types.QueryPlan{
		Kind:       types.PlanSimilarity,
		Confidence: in.Intent.Confidence,
		Similarity: plan,
	}, nil
}

// EntityTimelinePlanner produces the merged strategy: a chronological
// scan and a causal-subgraph lookup for the same entity, joined by the
// executor.
type EntityTimelinePlanner struct {
	limit int
}

func (p *EntityTimelinePlanner) Plan(ctx context.Context, in Input) (*types.QueryPlan, error) {
	anchor := anchorEntity(in.Entities)
	if anchor == nil {
		return nil, types.NewQueryError(types.KindEntityNotFound, "entity timeline requires a resolved entity")
	}
	return &types.QueryPlan{
		Kind:       types.PlanEntityTimeline,
		Confidence: in.Intent.Confidence,
		EntityTimeline: &types.EntityTimelinePlan{
			EntityID: anchor.ID,
			Range:    in.Range,
			Limit:    p.limit,
		},
	}, nil
}
