package querygen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// scriptedLLM returns queued responses in order.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []nlp.Message) (*nlp.Response, error) {
	if s.calls >= len(s.responses) {
		return &nlp.Response{Content: ""}, nil
	}
	content := s.responses[s.calls]
	s.calls++
	return &nlp.Response{Content: content}, nil
}

func (s *scriptedLLM) Close() error { return nil }

const validCausalCypher = `MATCH (cause:Event)-[rels:CAUSES*1..5]->(effect:Event)-[:INVOLVES]->(entity:Entity {id: $entityID})
RETURN cause.id AS event_id, cause.description AS description,
       cause.ts_start AS ts_start, cause.ts_end AS ts_end,
       cause.document_id AS document_id,
       reduce(c = 1.0, r IN rels | c * r.confidence) AS confidence,
       length(rels) AS hop
ORDER BY hop ASC`

const validTemporalSQL = `SELECT e.id AS event_id, e.description, e.ts_start, e.ts_end, e.document_id, e.confidence
FROM events e
JOIN event_entities ee ON ee.event_id = e.id
WHERE e.ts_start >= $1 AND e.ts_start <= $2 AND ee.entity_id = $3
ORDER BY e.ts_start ASC
LIMIT $4`

func causalPlan() *types.QueryPlan {
	return &types.QueryPlan{
		Kind:       types.PlanCausal,
		Confidence: 0.95,
		Causal: &types.CausalPlan{
			AnchorEntityID: "e1",
			MaxHops:        5,
			Direction:      types.DirectionUpstream,
		},
	}
}

func temporalPlan() *types.QueryPlan {
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC)
	return &types.QueryPlan{
		Kind:       types.PlanTemporal,
		Confidence: 0.95,
		Temporal: &types.TemporalPlan{
			Range:    types.TimeRange{Start: &start, End: &end},
			EntityID: "e1",
			PageSize: 50,
		},
	}
}

func TestGenerateSimilarityNeedsNoLLM(t *testing.T) {
	llm := &scriptedLLM{}
	g := NewGenerator(llm, 3, nil)
	plan := &types.QueryPlan{
		Kind:       types.PlanSimilarity,
		Confidence: 0.9,
		Similarity: &types.SimilarityPlan{Vector: []float32{1, 0}, TopK: 10, MinScore: 0.2},
	}
	queries, err := g.Generate(context.Background(), "find similar events", plan)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, types.OpVector, queries[0].Op)
	assert.Equal(t, types.TargetEventStore, queries[0].Target)
	assert.True(t, queries[0].Valid)
	assert.Zero(t, llm.calls)
}

func TestGenerateCypherFirstAttempt(t *testing.T) {
	llm := &scriptedLLM{responses: []string{validCausalCypher}}
	g := NewGenerator(llm, 3, nil)

	queries, err := g.Generate(context.Background(), "why did revenue drop", causalPlan())
	require.NoError(t, err)
	require.Len(t, queries, 1)
	q := queries[0]
	assert.Equal(t, types.OpCypher, q.Op)
	assert.Equal(t, types.TargetGraphStore, q.Target)
	assert.True(t, q.Valid)
	assert.Equal(t, 1, q.Attempts)
	assert.Equal(t, "e1", q.Params["entityID"])
}

func TestGenerateCypherCorrectiveRetry(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"CREATE (n:Event) RETURN n",
		"```cypher\n" + validCausalCypher + "\n```",
	}}
	g := NewGenerator(llm, 3, nil)

	queries, err := g.Generate(context.Background(), "why did revenue drop", causalPlan())
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, 2, queries[0].Attempts)
	assert.Equal(t, 2, llm.calls)
	// Fences are stripped before validation and execution.
	assert.NotContains(t, queries[0].Text, "```")
}

func TestGenerateCypherExhaustsAttempts(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"DELETE everything",
		"MERGE (n) RETURN n",
		"not even close",
	}}
	g := NewGenerator(llm, 3, nil)

	_, err := g.Generate(context.Background(), "why did revenue drop", causalPlan())
	require.Error(t, err)
	assert.Equal(t, types.KindQueryGenerationFailed, types.KindOf(err))
	assert.Equal(t, 3, llm.calls)
}

func TestGenerateCypherRejectsOverlongTraversal(t *testing.T) {
	over := `MATCH (cause:Event)-[rels:CAUSES*1..9]->(effect:Event)-[:INVOLVES]->(entity:Entity {id: $entityID})
RETURN cause.id AS event_id, cause.description AS description, cause.ts_start AS ts_start,
       cause.ts_end AS ts_end, cause.document_id AS document_id, 1.0 AS confidence, length(rels) AS hop`
	llm := &scriptedLLM{responses: []string{over, over, over}}
	g := NewGenerator(llm, 3, nil)

	_, err := g.Generate(context.Background(), "why", causalPlan())
	require.Error(t, err)
	assert.Equal(t, types.KindQueryGenerationFailed, types.KindOf(err))
}

func TestGenerateSQL(t *testing.T) {
	llm := &scriptedLLM{responses: []string{validTemporalSQL + ";"}}
	g := NewGenerator(llm, 3, nil)

	queries, err := g.Generate(context.Background(), "what happened between July and September", temporalPlan())
	require.NoError(t, err)
	require.Len(t, queries, 1)
	q := queries[0]
	assert.Equal(t, types.OpSQL, q.Op)
	assert.Equal(t, types.TargetEventStore, q.Target)
	assert.True(t, q.Valid)
	require.Len(t, q.Args, 4)
	assert.Equal(t, "e1", q.Args[2])
	assert.Equal(t, 50, q.Args[3])
	assert.NotContains(t, q.Text, ";")
}

func TestGenerateSeededCausalSkipsGeneration(t *testing.T) {
	llm := &scriptedLLM{}
	g := NewGenerator(llm, 3, nil)
	plan := &types.QueryPlan{
		Kind:       types.PlanCausal,
		Confidence: 0.9,
		Causal: &types.CausalPlan{
			SeedEventIDs: []string{"ev-1", "ev-2"},
			MaxHops:      5,
			Direction:    types.DirectionUpstream,
		},
	}

	queries, err := g.Generate(context.Background(), "why did the outage happen", plan)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	for i, q := range queries {
		assert.Equal(t, types.OpChain, q.Op)
		assert.Equal(t, types.TargetGraphStore, q.Target)
		assert.Equal(t, types.DirectionUpstream, q.Direction)
		assert.Equal(t, 5, q.MaxHops)
		assert.True(t, q.Valid)
		assert.Equal(t, plan.Causal.SeedEventIDs[i], q.EventID)
	}
	assert.Zero(t, llm.calls)
}

func TestGenerateEntityTimelineProducesBothLegs(t *testing.T) {
	llm := &scriptedLLM{}
	g := NewGenerator(llm, 3, nil)
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC)
	plan := &types.QueryPlan{
		Kind:       types.PlanEntityTimeline,
		Confidence: 0.92,
		EntityTimeline: &types.EntityTimelinePlan{
			EntityID: "e1",
			Range:    types.TimeRange{Start: &start, End: &end},
			Limit:    50,
		},
	}

	queries, err := g.Generate(context.Background(), "show me everything about Acme", plan)
	require.NoError(t, err)
	require.Len(t, queries, 2)

	scan := queries[0]
	assert.Equal(t, types.OpListEvents, scan.Op)
	assert.Equal(t, types.TargetEventStore, scan.Target)
	assert.Equal(t, "e1", scan.EntityID)
	assert.Equal(t, 50, scan.Limit)
	require.NotNil(t, scan.Range)
	assert.Equal(t, start, *scan.Range.Start)
	assert.True(t, scan.Valid)

	graph := queries[1]
	assert.Equal(t, types.OpSubgraph, graph.Op)
	assert.Equal(t, types.TargetGraphStore, graph.Target)
	assert.Equal(t, "e1", graph.EntityID)
	assert.Equal(t, 50, graph.Limit)
	assert.True(t, graph.Valid)

	// Both legs are fixed-shape store operations.
	assert.Zero(t, llm.calls)
}

func TestValidateCypher(t *testing.T) {
	params := map[string]any{"entityID": "e1"}
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{"empty", "", "empty"},
		{"write clause", "MATCH (n) SET n.x = 1 RETURN n", "forbidden"},
		{"missing return", "MATCH (n:Event)", "RETURN"},
		{"unbound param", "MATCH (n:Event {id: $other}) RETURN n.id AS event_id, n.description AS description, n.ts_start AS ts_start, n.ts_end AS ts_end, n.document_id AS document_id, n.confidence AS confidence, 0 AS hop", "not bound"},
		{"unbounded traversal", "MATCH (a:Event)-[r:CAUSES*]->(b:Event {id: $entityID}) RETURN a.id AS event_id, a.description AS description, a.ts_start AS ts_start, a.ts_end AS ts_end, a.document_id AS document_id, a.confidence AS confidence, length(r) AS hop", "no upper bound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCypher(tt.text, 5, params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, ValidateCypher(validCausalCypher, 5, params))
}

func TestValidateSQL(t *testing.T) {
	args := []any{1, 2, "e1", 50}
	tests := []struct {
		name    string
		text    string
		args    []any
		wantErr string
	}{
		{"empty", "", args, "empty"},
		{"multiple statements", validTemporalSQL + "; SELECT 1", args, "multiple statements"},
		{"not a select", "UPDATE events SET confidence = 1", args, "single SELECT"},
		{"no limit", "SELECT id AS event_id, description, ts_start, ts_end, document_id, confidence FROM events WHERE id = $1", []any{"x"}, "LIMIT"},
		{"placeholder out of range", validTemporalSQL, []any{1, 2, "e1"}, "no bound argument"},
		{"unused argument", "SELECT id AS event_id, description, ts_start, ts_end, document_id, confidence FROM events LIMIT $1", []any{10, "extra"}, "unused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSQL(tt.text, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, ValidateSQL(validTemporalSQL, args))
}

func TestStripResponse(t *testing.T) {
	assert.Equal(t, "SELECT 1", stripResponse("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", stripResponse("  SELECT 1;  "))
	assert.Equal(t, "SELECT 1", stripResponse("SELECT 1"))
}
