package prompts

import (
	"fmt"
	"log/slog"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// graphSchema is embedded in every Cypher generation prompt so the model
// writes against the actual graph shape.
const graphSchema = `Graph schema:
(:Event {id: STRING, description: STRING, ts_start: DATETIME, ts_end: DATETIME, document_id: STRING, confidence: FLOAT})
(:Entity {id: STRING, name: STRING, entity_type: STRING})
(:Event)-[:CAUSES {confidence: FLOAT, evidence: STRING}]->(:Event)
(:Event)-[:INVOLVES]->(:Entity)`

// cypherRules are the hard constraints the validator enforces; stating
// them in the prompt keeps most generations valid on the first attempt.
const cypherRules = `Rules:
- Produce a single read-only MATCH...RETURN query. Never use CREATE, MERGE, DELETE, SET, REMOVE, or CALL.
- RETURN these aliases exactly: event_id, description, ts_start, ts_end, document_id, confidence, hop.
- For traversals set hop to the path length; for direct matches return 0 AS hop.
- Use $-parameters for every literal value except the hop bound in variable-length patterns.
- Bound every variable-length pattern (e.g. [:CAUSES*1..5]); never leave it unbounded.
- Respond with the query text only, no markdown fences, no commentary.`

// CypherGenerationPrompt asks the model for an entity-anchored causal
// traversal query. Seeded traversals never go through generation; their
// shape is fixed and they run as structured chain operations.
func CypherGenerationPrompt(logger *slog.Logger, question string, plan *types.CausalPlan) []nlp.Message {
	sysPrompt := fmt.Sprintf(`You translate natural-language causal questions into Cypher for a Neo4j causal graph.

%s

%s`, graphSchema, cypherRules)

	userPrompt := fmt.Sprintf(`Question: %s

Anchor entity id (bind as $entityID): %s
Traversal direction: %s
Maximum hops: %d`, question, plan.AnchorEntityID, plan.Direction, plan.MaxHops)

	return buildMessages(logger, sysPrompt, userPrompt)
}

// CorrectiveCypherPrompt re-asks after a validation failure, carrying the
// rejected query and the validator's reason.
func CorrectiveCypherPrompt(logger *slog.Logger, question string, plan *types.CausalPlan, rejected, reason string) []nlp.Message {
	messages := CypherGenerationPrompt(logger, question, plan)
	messages = append(messages,
		nlp.NewAssistantMessage(rejected),
		nlp.NewUserMessage(fmt.Sprintf(`That query was rejected: %s

Produce a corrected query that follows every rule. Respond with the query text only.`, reason)),
	)
	return messages
}
