// Package executor runs validated queries against the store
// collaborators. Every store call carries its own timeout and a bounded
// retry budget for transient failures; multi-leg plans fan out
// concurrently and join their evidence before returning.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/store"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Result is the joined evidence for a request. Partial marks results
// where one leg of a fan-out failed but the other produced evidence.
type Result struct {
	Evidence []types.EvidenceItem
	Partial  bool
}

// Executor dispatches generated queries to the right collaborator.
type Executor struct {
	events      store.EventStore
	graph       store.GraphStore
	callTimeout time.Duration
	retryMax    int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// New creates an executor with the configured per-call timeout and
// transient-retry budget.
func New(events store.EventStore, graph store.GraphStore, cfg config.QueryConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	callTimeout := cfg.StoreCallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Executor{
		events:      events,
		graph:       graph,
		callTimeout: callTimeout,
		retryMax:    cfg.StoreRetryMax,
		baseDelay:   100 * time.Millisecond,
		logger:      logger,
	}
}

// Execute runs one or more queries and joins their evidence. Multiple
// queries run concurrently; a single failed leg degrades the result to
// partial as long as another leg returned evidence.
func (e *Executor) Execute(ctx context.Context, queries []types.GeneratedQuery) (*Result, error) {
	if len(queries) == 0 {
		return nil, types.NewQueryError(types.KindInvalidRequest, "no queries to execute")
	}
	for i := range queries {
		if !queries[i].Valid {
			return nil, types.NewQueryError(types.KindInvalidRequest, "refusing to execute unvalidated query")
		}
	}

	if len(queries) == 1 {
		items, err := e.runQuery(ctx, &queries[0])
		if err != nil {
			return nil, err
		}
		return &Result{Evidence: dedupe(items)}, nil
	}

	legs := make([][]types.EvidenceItem, len(queries))
	legErrs := make([]error, len(queries))
	var g errgroup.Group
	for i := range queries {
		g.Go(func() error {
			legs[i], legErrs[i] = e.runQuery(ctx, &queries[i])
			return nil
		})
	}
	g.Wait()

	var merged []types.EvidenceItem
	var firstErr error
	failed := 0
	for i := range queries {
		if legErrs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = legErrs[i]
			}
			e.logger.Warn("query leg failed", "op", queries[i].Op, "error", legErrs[i])
			continue
		}
		merged = append(merged, legs[i]...)
	}
	if failed == len(queries) {
		return nil, firstErr
	}
	return &Result{Evidence: dedupe(merged), Partial: failed > 0}, nil
}

// runQuery issues one store call with a per-call timeout, retrying
// transient failures with exponential backoff up to the retry budget.
func (e *Executor) runQuery(ctx context.Context, q *types.GeneratedQuery) ([]types.EvidenceItem, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			delay := e.baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, classifyStoreError(ctx.Err())
			}
			e.logger.Debug("retrying store call", "op", q.Op, "attempt", attempt)
		}
		items, err := e.callOnce(ctx, q)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, classifyStoreError(lastErr)
}

func (e *Executor) callOnce(ctx context.Context, q *types.GeneratedQuery) ([]types.EvidenceItem, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch q.Op {
	case types.OpVector:
		scored, err := e.events.SimilaritySearch(callCtx, q.Vector, q.TopK, q.MinScore, q.EntityID)
		if err != nil {
			return nil, err
		}
		items := make([]types.EvidenceItem, 0, len(scored))
		for _, s := range scored {
			if q.Range != nil && (s.Event.TsStart == nil || !q.Range.Contains(*s.Event.TsStart)) {
				continue
			}
			item := s.Event
			item.Score = s.Score
			items = append(items, item)
		}
		return items, nil
	case types.OpSQL:
		return e.events.ExecuteQuery(callCtx, q.Text, q.Args)
	case types.OpCypher:
		return e.graph.ExecuteCypher(callCtx, q.Text, q.Params)
	case types.OpListEvents:
		params := store.ListEventsParams{EntityID: q.EntityID, Limit: q.Limit}
		if q.Range != nil {
			params.From = q.Range.Start
			params.To = q.Range.End
		}
		return e.events.ListEvents(callCtx, params)
	case types.OpSubgraph:
		return e.graph.EntitySubgraph(callCtx, q.EntityID, q.Limit)
	case types.OpChain:
		return e.runChain(callCtx, q)
	}
	return nil, types.NewQueryError(types.KindInvalidRequest, "unknown query op %q", q.Op)
}

// runChain traverses the causal graph from a seed event and anchors the
// result with the seed itself at hop 0. Chains read cause to effect, so
// upstream traversals come back deepest cause first with the seed last;
// other directions lead with the seed. Seed lookup failure degrades the
// chain to traversal results only.
func (e *Executor) runChain(ctx context.Context, q *types.GeneratedQuery) ([]types.EvidenceItem, error) {
	related, err := e.graph.CausalChain(ctx, q.EventID, q.Direction, q.MaxHops)
	if err != nil {
		return nil, err
	}

	var anchor []types.EvidenceItem
	seed, err := e.events.GetEvent(ctx, q.EventID)
	if err != nil {
		e.logger.Warn("seed event lookup failed", "event_id", q.EventID, "error", err)
	} else if seed != nil {
		item := *seed
		item.Hop = 0
		anchor = []types.EvidenceItem{item}
	}

	if q.Direction == types.DirectionUpstream {
		chain := make([]types.EvidenceItem, 0, len(related)+len(anchor))
		for i := len(related) - 1; i >= 0; i-- {
			chain = append(chain, related[i])
		}
		return append(chain, anchor...), nil
	}
	return append(anchor, related...), nil
}

// dedupe removes later duplicates of the same event, preserving the
// order of first occurrence so chronological legs stay chronological.
func dedupe(items []types.EvidenceItem) []types.EvidenceItem {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, item := range items {
		if item.ID != "" && seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}

func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if types.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return types.WrapQueryError(types.KindStoreTimeout, err, "store call timed out")
	}
	return types.WrapQueryError(types.KindStoreUnavailable, err, "store call failed")
}

// isTransient mirrors the failure modes worth retrying: timeouts and
// dropped connections. Anything else fails fast.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporarily unavailable",
		"eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
