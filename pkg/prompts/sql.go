package prompts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// eventStoreSchema is embedded in every SQL generation prompt.
const eventStoreSchema = `Relational schema (PostgreSQL):
events(id TEXT PRIMARY KEY, description TEXT, ts_start TIMESTAMPTZ, ts_end TIMESTAMPTZ, document_id TEXT, confidence DOUBLE PRECISION, embedding VECTOR)
entities(id TEXT PRIMARY KEY, name TEXT, canonical_name TEXT, entity_type TEXT, aliases TEXT[])
event_entities(event_id TEXT REFERENCES events, entity_id TEXT REFERENCES entities)
documents(id TEXT PRIMARY KEY, source TEXT, metadata JSONB)`

const sqlRules = `Rules:
- Produce a single read-only SELECT statement. Never use INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE, or CTE writes.
- Select these output columns with these exact aliases: id AS event_id, description, ts_start, ts_end, document_id, confidence.
- Use positional placeholders $1, $2, ... for every literal value, numbered consecutively from $1.
- Always include a LIMIT clause.
- Order results by ts_start ascending unless the question demands otherwise.
- Respond with the SQL text only, no markdown fences, no commentary.`

// SQLGenerationPrompt asks the model for a chronological range query.
// The returned argument list matches the placeholders the prompt tells
// the model to use.
func SQLGenerationPrompt(logger *slog.Logger, question string, plan *types.TemporalPlan) ([]nlp.Message, []any) {
	sysPrompt := fmt.Sprintf(`You translate natural-language temporal questions into SQL over an event store.

%s

%s`, eventStoreSchema, sqlRules)

	var args []any
	bindings := ""
	next := func(v any, desc string) string {
		args = append(args, v)
		placeholder := fmt.Sprintf("$%d", len(args))
		bindings += fmt.Sprintf("- %s = %s\n", placeholder, desc)
		return placeholder
	}

	constraints := ""
	if plan.Range.Start != nil {
		p := next(*plan.Range.Start, fmt.Sprintf("range start (%s)", plan.Range.Start.Format(time.RFC3339)))
		constraints += fmt.Sprintf("Only include events with ts_start >= %s.\n", p)
	}
	if plan.Range.End != nil {
		p := next(*plan.Range.End, fmt.Sprintf("range end (%s)", plan.Range.End.Format(time.RFC3339)))
		constraints += fmt.Sprintf("Only include events with ts_start <= %s.\n", p)
	}
	if plan.EntityID != "" {
		p := next(plan.EntityID, fmt.Sprintf("entity id %q", plan.EntityID))
		constraints += fmt.Sprintf("Only include events joined through event_entities to entity_id = %s.\n", p)
	}
	limit := next(plan.PageSize, fmt.Sprintf("page size (%d)", plan.PageSize))
	constraints += fmt.Sprintf("Use LIMIT %s.\n", limit)

	userPrompt := fmt.Sprintf(`Question: %s

Available placeholders (use each exactly once):
%s
%s`, question, bindings, constraints)

	return buildMessages(logger, sysPrompt, userPrompt), args
}

// CorrectiveSQLPrompt re-asks after a validation failure.
func CorrectiveSQLPrompt(logger *slog.Logger, question string, plan *types.TemporalPlan, rejected, reason string) ([]nlp.Message, []any) {
	messages, args := SQLGenerationPrompt(logger, question, plan)
	messages = append(messages,
		nlp.NewAssistantMessage(rejected),
		nlp.NewUserMessage(fmt.Sprintf(`That query was rejected: %s

Produce a corrected query that follows every rule. Respond with the SQL text only.`, reason)),
	)
	return messages, args
}
