package types

import (
	"fmt"
	"time"
)

// Intent is the classified category of a question. It determines which
// planner handles the request.
type Intent string

const (
	// IntentCausalWhy covers questions seeking cause-effect chains
	// ("Why did revenue drop in Q3?").
	IntentCausalWhy Intent = "CAUSAL_WHY"
	// IntentTemporalRange covers questions about a specific time period
	// ("What happened between July and September?").
	IntentTemporalRange Intent = "TEMPORAL_RANGE"
	// IntentSimilarity covers questions asking for events similar to a
	// described event.
	IntentSimilarity Intent = "SIMILARITY"
	// IntentEntityTimeline covers questions about the history of a
	// specific entity ("Show me everything about Acme Corp").
	IntentEntityTimeline Intent = "ENTITY_TIMELINE"
)

// Valid reports whether i is one of the four supported intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentCausalWhy, IntentTemporalRange, IntentSimilarity, IntentEntityTimeline:
		return true
	}
	return false
}

// IntentResult is the output of the intent classifier.
type IntentResult struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"` // 0.0 - 1.0
	Method     string  `json:"method"`     // "heuristic" | "llm" | "fallback"
}

// TimeRange is a UTC time window. Both ends are optional; a range with
// neither end set is unbounded, which is a valid and common case.
type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Unbounded reports whether neither end of the range is set.
func (r TimeRange) Unbounded() bool {
	return r.Start == nil && r.End == nil
}

// Contains reports whether t falls inside the range. Open ends match
// everything on their side.
func (r TimeRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Validate checks the start <= end invariant when both ends are present.
func (r TimeRange) Validate() error {
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return fmt.Errorf("time range end %s precedes start %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Question is a single natural-language query together with its optional
// explicit filters. Immutable once received.
type Question struct {
	Text          string     `json:"question"`
	EntityFilter  string     `json:"entity_filter,omitempty"`
	TimeRange     *TimeRange `json:"time_range,omitempty"`
	MaxCausalHops int        `json:"max_causal_hops,omitempty"`
}

// ResolutionMethod identifies which tier of the resolution cascade
// produced a match.
type ResolutionMethod string

const (
	ResolutionExact     ResolutionMethod = "exact"
	ResolutionAlias     ResolutionMethod = "alias"
	ResolutionFuzzy     ResolutionMethod = "fuzzy"
	ResolutionEmbedding ResolutionMethod = "embedding"
)

// ResolvedEntity is one canonical entity matched for a mention.
type ResolvedEntity struct {
	ID            string           `json:"id"`
	CanonicalName string           `json:"canonical_name"`
	EntityType    string           `json:"entity_type,omitempty"`
	Method        ResolutionMethod `json:"method"`
	Score         float64          `json:"score"` // 0.0 - 1.0
	// MentionOffset is the byte offset of the last occurrence of the
	// mention in the question text, or -1 when the mention came from an
	// explicit filter rather than the text. Used as a planner tie-break.
	MentionOffset int `json:"-"`
}

// EvidenceItem is one retrieved unit of evidence: an event row from the
// event store or a node from a causal-graph traversal.
type EvidenceItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	TsStart     *time.Time `json:"ts_start,omitempty"`
	TsEnd       *time.Time `json:"ts_end,omitempty"`
	DocumentID  string     `json:"document_id,omitempty"`
	Confidence  float64    `json:"confidence"`
	// Hop is the traversal distance from the seed for graph results,
	// 0 for store scans.
	Hop int `json:"hop,omitempty"`
	// Score is the similarity score for vector results, 0 otherwise.
	Score float64 `json:"score,omitempty"`
}

// SourceReference points at the document an evidence item was extracted
// from.
type SourceReference struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SynthesizedAnswer is the final, evidence-grounded response for a
// question. Every entry in Chain and Sources corresponds to evidence
// actually retrieved for this request.
type SynthesizedAnswer struct {
	Answer     string            `json:"answer"`
	Confidence float64           `json:"confidence"` // 0.0 - 1.0
	Intent     Intent            `json:"intent"`
	Chain      []EvidenceItem    `json:"causal_chain"`
	Sources    []SourceReference `json:"sources"`
	// Partial marks answers assembled from incomplete evidence, e.g.
	// after a deadline cut one leg of a fan-out short.
	Partial bool `json:"partial,omitempty"`
	// StrippedCitations counts citations the model emitted that did not
	// correspond to supplied evidence and were removed.
	StrippedCitations int `json:"-"`
}
