// Package querygen turns an abstract query plan into concrete,
// executable store queries. Query text whose shape depends on the
// question is LLM-generated and must pass the validation gate before it
// is marked executable; fixed-shape retrievals (vector search, seeded
// chain traversal, the entity-timeline legs) are structured store
// operations and need no generation.
package querygen

import (
	"context"
	"log/slog"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/prompts"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Generator produces validated store queries from plans.
type Generator struct {
	llm         nlp.Client
	maxAttempts int
	logger      *slog.Logger
}

// NewGenerator creates a generator. The client should be configured for
// deterministic sampling so identical plans produce identical queries.
func NewGenerator(llm nlp.Client, maxAttempts int, logger *slog.Logger) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: llm, maxAttempts: maxAttempts, logger: logger}
}

// Generate produces the queries a plan requires. Entity timeline yields
// its two merged legs and seeded causal traversal yields one leg per
// seed; every other plan yields one query.
func (g *Generator) Generate(ctx context.Context, question string, plan *types.QueryPlan) ([]types.GeneratedQuery, error) {
	if err := plan.Validate(); err != nil {
		return nil, types.WrapQueryError(types.KindInvalidRequest, err, "cannot generate from invalid plan")
	}
	switch plan.Kind {
	case types.PlanSimilarity:
		return []types.GeneratedQuery{similarityQuery(plan.Similarity)}, nil
	case types.PlanCausal:
		if len(plan.Causal.SeedEventIDs) > 0 {
			return seedChainQueries(plan.Causal), nil
		}
		q, err := g.generateCypher(ctx, question, plan.Causal)
		if err != nil {
			return nil, err
		}
		return []types.GeneratedQuery{*q}, nil
	case types.PlanTemporal:
		q, err := g.generateSQL(ctx, question, plan.Temporal)
		if err != nil {
			return nil, err
		}
		return []types.GeneratedQuery{*q}, nil
	case types.PlanEntityTimeline:
		return entityTimelineQueries(plan.EntityTimeline), nil
	}
	return nil, types.NewQueryError(types.KindInvalidRequest, "unknown plan kind %q", plan.Kind)
}

// seedChainQueries builds one structured traversal per seed event. The
// traversal shape from a known event never varies, so seeded causal
// plans run the graph store's chain operation directly instead of
// generating Cypher.
func seedChainQueries(plan *types.CausalPlan) []types.GeneratedQuery {
	queries := make([]types.GeneratedQuery, 0, len(plan.SeedEventIDs))
	for _, id := range plan.SeedEventIDs {
		queries = append(queries, types.GeneratedQuery{
			Target:    types.TargetGraphStore,
			Op:        types.OpChain,
			EventID:   id,
			Direction: plan.Direction,
			MaxHops:   plan.MaxHops,
			Valid:     true,
		})
	}
	return queries
}

// entityTimelineQueries yields both legs of the merged strategy as
// structured store operations: a chronological scan over the event
// store and the entity's one-hop causal subgraph from the graph store.
func entityTimelineQueries(plan *types.EntityTimelinePlan) []types.GeneratedQuery {
	scanRange := plan.Range
	return []types.GeneratedQuery{
		{
			Target:   types.TargetEventStore,
			Op:       types.OpListEvents,
			EntityID: plan.EntityID,
			Range:    &scanRange,
			Limit:    plan.Limit,
			Valid:    true,
		},
		{
			Target:   types.TargetGraphStore,
			Op:       types.OpSubgraph,
			EntityID: plan.EntityID,
			Limit:    plan.Limit,
			Valid:    true,
		},
	}
}

func similarityQuery(plan *types.SimilarityPlan) types.GeneratedQuery {
	return types.GeneratedQuery{
		Target:   types.TargetEventStore,
		Op:       types.OpVector,
		Vector:   plan.Vector,
		TopK:     plan.TopK,
		MinScore: plan.MinScore,
		EntityID: plan.EntityID,
		Range:    plan.Range,
		Valid:    true,
	}
}

// generateCypher asks the model for an entity-anchored traversal query
// and gates it through the Cypher validator, re-prompting with the
// rejection reason until it passes or attempts run out.
func (g *Generator) generateCypher(ctx context.Context, question string, plan *types.CausalPlan) (*types.GeneratedQuery, error) {
	params := map[string]any{"entityID": plan.AnchorEntityID}

	messages := prompts.CypherGenerationPrompt(g.logger, question, plan)
	var lastErr error
	var text string
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		resp, err := g.llm.Chat(ctx, messages)
		if err != nil {
			return nil, types.WrapQueryError(types.KindQueryGenerationFailed, err, "cypher generation call failed")
		}
		text = stripResponse(resp.Content)
		lastErr = ValidateCypher(text, plan.MaxHops, params)
		if lastErr == nil {
			return &types.GeneratedQuery{
				Target:   types.TargetGraphStore,
				Op:       types.OpCypher,
				Text:     text,
				Params:   params,
				Valid:    true,
				Attempts: attempt,
			}, nil
		}
		g.logger.Warn("generated cypher rejected", "attempt", attempt, "reason", lastErr)
		messages = prompts.CorrectiveCypherPrompt(g.logger, question, plan, text, lastErr.Error())
	}
	return nil, types.WrapQueryError(types.KindQueryGenerationFailed, lastErr, "cypher validation failed after %d attempts", g.maxAttempts)
}

// generateSQL is the relational counterpart of generateCypher.
func (g *Generator) generateSQL(ctx context.Context, question string, plan *types.TemporalPlan) (*types.GeneratedQuery, error) {
	messages, args := prompts.SQLGenerationPrompt(g.logger, question, plan)
	var lastErr error
	var text string
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		resp, err := g.llm.Chat(ctx, messages)
		if err != nil {
			return nil, types.WrapQueryError(types.KindQueryGenerationFailed, err, "sql generation call failed")
		}
		text = stripResponse(resp.Content)
		lastErr = ValidateSQL(text, args)
		if lastErr == nil {
			return &types.GeneratedQuery{
				Target:   types.TargetEventStore,
				Op:       types.OpSQL,
				Text:     text,
				Args:     args,
				Valid:    true,
				Attempts: attempt,
			}, nil
		}
		g.logger.Warn("generated sql rejected", "attempt", attempt, "reason", lastErr)
		messages, args = prompts.CorrectiveSQLPrompt(g.logger, question, plan, text, lastErr.Error())
	}
	return nil, types.WrapQueryError(types.KindQueryGenerationFailed, lastErr, "sql validation failed after %d attempts", g.maxAttempts)
}
