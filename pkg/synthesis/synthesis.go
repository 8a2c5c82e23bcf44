// Package synthesis composes the final evidence-grounded answer. The
// model only ever sees ranked evidence, and every citation it emits is
// checked against that evidence; citations pointing anywhere else are
// stripped and penalized.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/prompts"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Weights of the evidence ranking and the aggregate confidence formula.
const (
	rankConfidenceWeight = 0.7
	rankProximityWeight  = 0.3

	confPlannerWeight   = 0.4
	confEvidenceWeight  = 0.6
	confStrippedPenalty = 0.05
	confPartialFactor   = 0.9
	confFallbackFactor  = 0.5
)

// Input carries everything synthesis needs from the earlier stages.
type Input struct {
	Question          types.Question
	Intent            types.Intent
	Range             types.TimeRange
	PlannerConfidence float64
	// Evidence in executor order; the cited chain preserves this order.
	Evidence []types.EvidenceItem
	Partial  bool
}

// Synthesizer turns ranked evidence into a cited answer.
type Synthesizer struct {
	llm    nlp.Client
	logger *slog.Logger
}

// New creates a synthesizer. The client should run with mild sampling
// temperature; answers are prose, not queries.
func New(llm nlp.Client, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{llm: llm, logger: logger}
}

// Synthesize produces the answer for a question. Empty evidence is a
// SynthesisEmpty error, never a fabricated narrative. A failed or
// unparseable model call degrades to a template answer built from the
// top-ranked evidence, with reduced confidence.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*types.SynthesizedAnswer, error) {
	if len(in.Evidence) == 0 {
		return nil, types.NewQueryError(types.KindSynthesisEmpty, "no evidence available to answer the question")
	}

	ranked := rankEvidence(in.Evidence, in.Range)
	byID := make(map[string]types.EvidenceItem, len(in.Evidence))
	for _, item := range in.Evidence {
		byID[item.ID] = item
	}

	result, err := s.generate(ctx, in, ranked)
	if err != nil {
		s.logger.Warn("synthesis model call failed, using template answer", "error", err)
		return s.templateAnswer(in, ranked), nil
	}

	var citations []string
	stripped := 0
	cited := make(map[string]bool)
	for _, c := range result.Citations {
		c = strings.TrimSpace(c)
		if _, ok := byID[c]; !ok {
			stripped++
			continue
		}
		if !cited[c] {
			cited[c] = true
			citations = append(citations, c)
		}
	}
	if stripped > 0 {
		s.logger.Warn("stripped citations not present in evidence", "count", stripped)
	}

	// The chain keeps executor order, not the model's citation order.
	var chain []types.EvidenceItem
	for _, item := range in.Evidence {
		if cited[item.ID] {
			chain = append(chain, item)
		}
	}

	confidence := aggregateConfidence(in.PlannerConfidence, chain, in.Evidence, stripped)
	if in.Partial {
		confidence *= confPartialFactor
	}

	return &types.SynthesizedAnswer{
		Answer:            result.Answer,
		Confidence:        clamp01(confidence),
		Intent:            in.Intent,
		Chain:             chain,
		Partial:           in.Partial,
		StrippedCitations: stripped,
	}, nil
}

func (s *Synthesizer) generate(ctx context.Context, in Input, ranked []types.EvidenceItem) (*prompts.SynthesisResult, error) {
	messages, err := prompts.SynthesisPrompt(s.logger, in.Question.Text, in.Intent, ranked)
	if err != nil {
		return nil, err
	}
	resp, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	prompts.LogResponse(s.logger, resp)

	repaired, err := jsonrepair.JSONRepair(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to repair synthesis response: %w", err)
	}
	var result prompts.SynthesisResult
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, fmt.Errorf("failed to decode synthesis response: %w", err)
	}
	if strings.TrimSpace(result.Answer) == "" {
		return nil, fmt.Errorf("synthesis response has no answer text")
	}
	return &result, nil
}

// templateAnswer assembles a plain enumeration of the strongest evidence
// when the model is unavailable. Grounding still holds: it only ever
// restates retrieved items.
func (s *Synthesizer) templateAnswer(in Input, ranked []types.EvidenceItem) *types.SynthesizedAnswer {
	top := ranked
	if len(top) > 3 {
		top = top[:3]
	}
	var b strings.Builder
	b.WriteString("Based on the retrieved evidence: ")
	for i, item := range top {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(item.Description)
	}
	b.WriteString(".")

	chain := make([]types.EvidenceItem, 0, len(top))
	citedSet := make(map[string]bool, len(top))
	for _, item := range top {
		citedSet[item.ID] = true
	}
	for _, item := range in.Evidence {
		if citedSet[item.ID] {
			chain = append(chain, item)
		}
	}

	confidence := aggregateConfidence(in.PlannerConfidence, chain, in.Evidence, 0) * confFallbackFactor
	if in.Partial {
		confidence *= confPartialFactor
	}
	return &types.SynthesizedAnswer{
		Answer:     b.String(),
		Confidence: clamp01(confidence),
		Intent:     in.Intent,
		Chain:      chain,
		Partial:    in.Partial,
	}
}

// rankEvidence orders evidence by a blend of per-item confidence and
// temporal proximity to the question's time range. The sort is stable so
// executor order breaks ties.
func rankEvidence(evidence []types.EvidenceItem, rng types.TimeRange) []types.EvidenceItem {
	ranked := make([]types.EvidenceItem, len(evidence))
	copy(ranked, evidence)
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankScore(ranked[i], rng) > rankScore(ranked[j], rng)
	})
	return ranked
}

func rankScore(item types.EvidenceItem, rng types.TimeRange) float64 {
	return rankConfidenceWeight*item.Confidence + rankProximityWeight*temporalProximity(item, rng)
}

// temporalProximity is 1 inside the range, neutral when either side has
// no time information, and decays with distance outside the range on a
// thirty-day scale.
func temporalProximity(item types.EvidenceItem, rng types.TimeRange) float64 {
	if rng.Unbounded() || item.TsStart == nil {
		return 0.5
	}
	t := *item.TsStart
	if rng.Contains(t) {
		return 1.0
	}
	var gap time.Duration
	if rng.Start != nil && t.Before(*rng.Start) {
		gap = rng.Start.Sub(t)
	} else if rng.End != nil {
		gap = t.Sub(*rng.End)
	}
	days := gap.Hours() / 24
	return 1.0 / (1.0 + days/30.0)
}

// aggregateConfidence blends planner confidence with mean evidence
// confidence and penalizes stripped citations. Mean is taken over the
// cited chain when one exists, otherwise over all evidence.
func aggregateConfidence(plannerConfidence float64, chain, evidence []types.EvidenceItem, stripped int) float64 {
	basis := chain
	if len(basis) == 0 {
		basis = evidence
	}
	var sum float64
	for _, item := range basis {
		sum += item.Confidence
	}
	mean := 0.0
	if len(basis) > 0 {
		mean = sum / float64(len(basis))
	}
	return confPlannerWeight*plannerConfidence + confEvidenceWeight*mean - confStrippedPenalty*float64(stripped)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
