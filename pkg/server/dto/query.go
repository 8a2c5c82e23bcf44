// Package dto defines the JSON contract of the HTTP API.
package dto

import (
	"time"

	"github.com/chronoquery/chronoquery/pkg/types"
)

// TimeRange is the wire form of an optional time window. Both ends are
// RFC3339 timestamps.
type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Question      string     `json:"question" binding:"required"`
	EntityFilter  string     `json:"entity_filter,omitempty"`
	TimeRange     *TimeRange `json:"time_range,omitempty"`
	MaxCausalHops int        `json:"max_causal_hops,omitempty"`
}

// ToQuestion converts the request into the engine's input type.
func (r *QueryRequest) ToQuestion() types.Question {
	q := types.Question{
		Text:          r.Question,
		EntityFilter:  r.EntityFilter,
		MaxCausalHops: r.MaxCausalHops,
	}
	if r.TimeRange != nil {
		q.TimeRange = &types.TimeRange{Start: r.TimeRange.Start, End: r.TimeRange.End}
	}
	return q
}

// ChainItem is one evidence item of the answer's causal chain.
type ChainItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	TsStart     *time.Time `json:"ts_start,omitempty"`
	TsEnd       *time.Time `json:"ts_end,omitempty"`
	Confidence  float64    `json:"confidence"`
	Hop         int        `json:"hop,omitempty"`
}

// Source is one source document reference.
type Source struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryResponse is the body of a successful answer.
type QueryResponse struct {
	Answer      string      `json:"answer"`
	Confidence  float64     `json:"confidence"`
	Intent      string      `json:"intent"`
	CausalChain []ChainItem `json:"causal_chain"`
	Sources     []Source    `json:"sources"`
	Partial     bool        `json:"partial,omitempty"`
}

// FromAnswer maps the engine's answer onto the wire shape.
func FromAnswer(a *types.SynthesizedAnswer) QueryResponse {
	resp := QueryResponse{
		Answer:      a.Answer,
		Confidence:  a.Confidence,
		Intent:      string(a.Intent),
		CausalChain: make([]ChainItem, 0, len(a.Chain)),
		Sources:     make([]Source, 0, len(a.Sources)),
		Partial:     a.Partial,
	}
	for _, item := range a.Chain {
		resp.CausalChain = append(resp.CausalChain, ChainItem{
			ID:          item.ID,
			Description: item.Description,
			TsStart:     item.TsStart,
			TsEnd:       item.TsEnd,
			Confidence:  item.Confidence,
			Hop:         item.Hop,
		})
	}
	for _, src := range a.Sources {
		resp.Sources = append(resp.Sources, Source{
			ID:       src.ID,
			Source:   src.Source,
			Metadata: src.Metadata,
		})
	}
	return resp
}

// ErrorBody is the typed error response. Total failures always carry a
// kind and a correlation ID, never a silently empty success.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail identifies what failed and how to trace it.
type ErrorDetail struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
