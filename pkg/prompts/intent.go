package prompts

import (
	"fmt"
	"log/slog"

	"github.com/chronoquery/chronoquery/pkg/nlp"
)

// IntentClassification is the decoded response of the intent prompt.
type IntentClassification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// IntentClassificationPrompt asks the model to classify a question into
// one of the four supported intents. Used only when heuristic rules did
// not match.
func IntentClassificationPrompt(logger *slog.Logger, question string) []nlp.Message {
	sysPrompt := `You are a query intent classifier for a temporal knowledge system that stores events, their causal relationships, and the entities involved in them.

Classify the user's question into exactly one of these intents:
- CAUSAL_WHY: the question asks for causes, reasons, or explanations of an outcome
- TEMPORAL_RANGE: the question asks what happened during a period of time
- SIMILARITY: the question asks for events similar to a described event
- ENTITY_TIMELINE: the question asks for the history or activity of a specific entity

Respond with JSON only:
{"intent": "<INTENT>", "confidence": <0.0-1.0>, "reasoning": "<one short sentence>"}`

	userPrompt := fmt.Sprintf("Question: %s", question)

	return buildMessages(logger, sysPrompt, userPrompt)
}
