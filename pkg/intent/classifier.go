// Package intent classifies questions into the four supported query
// intents. Heuristic rules handle the common phrasings without a model
// call; the language model is consulted only when no rule matches.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/prompts"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Classification methods reported in results.
const (
	MethodHeuristic = "heuristic"
	MethodLLM       = "llm"
	MethodFallback  = "fallback"
)

// rule is one heuristic pattern with its fixed confidence. Rules are
// evaluated in order; the first match wins.
type rule struct {
	re         *regexp.Regexp
	intent     types.Intent
	confidence float64
}

var heuristicRules = []rule{
	// Causal phrasings. A leading "why" is near-certain; explicit causal
	// verbs slightly less so because they also appear in timelines.
	{regexp.MustCompile(`(?i)\bwhy\b`), types.IntentCausalWhy, 0.95},
	{regexp.MustCompile(`(?i)\b(caused?|led to|resulted? in|reason(s)? (for|behind)|because of|due to|root cause)\b`), types.IntentCausalWhy, 0.90},

	// Explicit ranges beat quarter and relative mentions.
	{regexp.MustCompile(`(?i)\bbetween\b.+\band\b`), types.IntentTemporalRange, 0.95},
	{regexp.MustCompile(`(?i)\bfrom\b.+\b(to|until|through)\b`), types.IntentTemporalRange, 0.95},
	{regexp.MustCompile(`(?i)\b(q[1-4]|(first|second|third|fourth) quarter)\b`), types.IntentTemporalRange, 0.90},
	{regexp.MustCompile(`(?i)\b(last|past|previous|this) (week|month|quarter|year|\d+ (days|weeks|months|years))\b`), types.IntentTemporalRange, 0.85},
	{regexp.MustCompile(`(?i)\bwhat happened\b`), types.IntentTemporalRange, 0.85},

	{regexp.MustCompile(`(?i)\b(similar to|like the|resembl\w+|comparable to|looked? like)\b`), types.IntentSimilarity, 0.90},

	{regexp.MustCompile(`(?i)\b(timeline|history of|everything about|all events (involving|about|for)|show me everything)\b`), types.IntentEntityTimeline, 0.92},
}

// Classifier decides which planner handles a question.
type Classifier struct {
	llm    nlp.Client
	logger *slog.Logger
}

// NewClassifier creates a classifier backed by the given model client.
// A nil client disables the LLM tier; unmatched questions then fall back
// immediately.
func NewClassifier(llm nlp.Client, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, logger: logger}
}

// Classify returns the intent for the question text. The same text always
// yields the same heuristic result; only LLM-tier classifications can
// vary between runs.
func (c *Classifier) Classify(ctx context.Context, text string) (types.IntentResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return types.IntentResult{}, types.NewQueryError(types.KindInvalidRequest, "question text is empty")
	}

	for _, r := range heuristicRules {
		if r.re.MatchString(trimmed) {
			return types.IntentResult{
				Intent:     r.intent,
				Confidence: r.confidence,
				Method:     MethodHeuristic,
			}, nil
		}
	}

	if c.llm != nil {
		if result, ok := c.classifyLLM(ctx, trimmed); ok {
			return result, nil
		}
	}

	// Nothing matched and the model could not help; retrieval by
	// similarity is the least wrong default.
	return types.IntentResult{
		Intent:     types.IntentSimilarity,
		Confidence: 0.50,
		Method:     MethodFallback,
	}, nil
}

func (c *Classifier) classifyLLM(ctx context.Context, text string) (types.IntentResult, bool) {
	messages := prompts.IntentClassificationPrompt(c.logger, text)

	resp, err := c.llm.Chat(ctx, messages)
	if err != nil {
		c.logger.Warn("intent classification model call failed", "error", err)
		return types.IntentResult{}, false
	}
	prompts.LogResponse(c.logger, resp)

	repaired, err := jsonrepair.JSONRepair(resp.Content)
	if err != nil {
		c.logger.Warn("intent response is not repairable JSON", "error", err)
		return types.IntentResult{}, false
	}

	var parsed prompts.IntentClassification
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		c.logger.Warn("intent response failed to decode", "error", err)
		return types.IntentResult{}, false
	}

	intent := types.Intent(strings.ToUpper(strings.TrimSpace(parsed.Intent)))
	if !intent.Valid() {
		c.logger.Warn("model returned unknown intent", "intent", parsed.Intent)
		return types.IntentResult{}, false
	}

	// The model's self-reported confidence is not calibrated; cap the
	// LLM tier below every heuristic rule.
	confidence := 0.80
	if parsed.Confidence > 0 && parsed.Confidence < confidence {
		confidence = parsed.Confidence
	}

	return types.IntentResult{
		Intent:     intent,
		Confidence: confidence,
		Method:     MethodLLM,
	}, true
}

// FallbackIntent picks the retry intent used when the planner for a
// low-confidence classification fails: a question with an explicit entity
// filter becomes a timeline lookup, anything else a similarity search.
func FallbackIntent(q types.Question) types.Intent {
	if q.EntityFilter != "" {
		return types.IntentEntityTimeline
	}
	return types.IntentSimilarity
}
