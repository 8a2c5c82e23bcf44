package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/store"
	"github.com/chronoquery/chronoquery/pkg/types"
)

type fakeEventStore struct {
	store.EventStore
	queryResults []types.EvidenceItem
	queryErrs    []error
	queryCalls   atomic.Int32
	searchHits   []store.ScoredEvent
	listed       []types.EvidenceItem
	listParams   store.ListEventsParams
	events       map[string]types.EvidenceItem
	getEventErr  error
}

func (f *fakeEventStore) ExecuteQuery(ctx context.Context, query string, args []any) ([]types.EvidenceItem, error) {
	call := int(f.queryCalls.Add(1)) - 1
	if call < len(f.queryErrs) && f.queryErrs[call] != nil {
		return nil, f.queryErrs[call]
	}
	return f.queryResults, nil
}

func (f *fakeEventStore) SimilaritySearch(ctx context.Context, vector []float32, limit int, minScore float64, entityID string) ([]store.ScoredEvent, error) {
	return f.searchHits, nil
}

func (f *fakeEventStore) ListEvents(ctx context.Context, params store.ListEventsParams) ([]types.EvidenceItem, error) {
	f.listParams = params
	return f.listed, nil
}

func (f *fakeEventStore) GetEvent(ctx context.Context, id string) (*types.EvidenceItem, error) {
	if f.getEventErr != nil {
		return nil, f.getEventErr
	}
	if ev, ok := f.events[id]; ok {
		return &ev, nil
	}
	return nil, nil
}

type fakeGraphStore struct {
	store.GraphStore
	results  []types.EvidenceItem
	chain    []types.EvidenceItem
	subgraph []types.EvidenceItem
	err      error
	calls    atomic.Int32
}

func (f *fakeGraphStore) ExecuteCypher(ctx context.Context, query string, params map[string]any) ([]types.EvidenceItem, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeGraphStore) CausalChain(ctx context.Context, eventID string, direction types.Direction, maxHops int) ([]types.EvidenceItem, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.chain, nil
}

func (f *fakeGraphStore) EntitySubgraph(ctx context.Context, entityID string, maxEvents int) ([]types.EvidenceItem, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.subgraph, nil
}

func newTestExecutor(es *fakeEventStore, gs *fakeGraphStore, retryMax int) *Executor {
	e := New(es, gs, config.QueryConfig{StoreCallTimeout: time.Second, StoreRetryMax: retryMax}, nil)
	e.baseDelay = time.Millisecond
	return e
}

func validSQL() types.GeneratedQuery {
	return types.GeneratedQuery{Target: types.TargetEventStore, Op: types.OpSQL, Text: "SELECT ...", Valid: true}
}

func validCypher() types.GeneratedQuery {
	return types.GeneratedQuery{Target: types.TargetGraphStore, Op: types.OpCypher, Text: "MATCH ...", Valid: true}
}

func event(id string) types.EvidenceItem {
	return types.EvidenceItem{ID: id, Description: "event " + id, Confidence: 0.9}
}

func TestExecuteRefusesUnvalidatedQuery(t *testing.T) {
	e := newTestExecutor(&fakeEventStore{}, &fakeGraphStore{}, 0)
	q := validSQL()
	q.Valid = false

	_, err := e.Execute(context.Background(), []types.GeneratedQuery{q})
	require.Error(t, err)
	assert.Equal(t, types.KindInvalidRequest, types.KindOf(err))
}

func TestExecuteRefusesEmptyQueryList(t *testing.T) {
	e := newTestExecutor(&fakeEventStore{}, &fakeGraphStore{}, 0)
	_, err := e.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, types.KindInvalidRequest, types.KindOf(err))
}

func TestExecuteSingleQuery(t *testing.T) {
	es := &fakeEventStore{queryResults: []types.EvidenceItem{event("a"), event("b")}}
	e := newTestExecutor(es, &fakeGraphStore{}, 0)

	res, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL()})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Evidence, 2)
	assert.Equal(t, "a", res.Evidence[0].ID)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	es := &fakeEventStore{
		queryResults: []types.EvidenceItem{event("a")},
		queryErrs:    []error{errors.New("connection reset by peer"), nil},
	}
	e := newTestExecutor(es, &fakeGraphStore{}, 2)

	res, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL()})
	require.NoError(t, err)
	assert.Len(t, res.Evidence, 1)
	assert.Equal(t, int32(2), es.queryCalls.Load())
}

func TestExecuteFailsFastOnPermanentError(t *testing.T) {
	es := &fakeEventStore{
		queryErrs: []error{errors.New("syntax error at or near"), nil},
	}
	e := newTestExecutor(es, &fakeGraphStore{}, 2)

	_, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL()})
	require.Error(t, err)
	assert.Equal(t, types.KindStoreUnavailable, types.KindOf(err))
	assert.Equal(t, int32(1), es.queryCalls.Load(), "permanent errors are not retried")
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	es := &fakeEventStore{
		queryErrs: []error{
			errors.New("i/o timeout"),
			errors.New("i/o timeout"),
			errors.New("i/o timeout"),
		},
	}
	e := newTestExecutor(es, &fakeGraphStore{}, 2)

	_, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL()})
	require.Error(t, err)
	assert.Equal(t, types.KindStoreTimeout, types.KindOf(err))
	assert.Equal(t, int32(3), es.queryCalls.Load())
}

func TestExecuteFanOutJoinsAndDeduplicates(t *testing.T) {
	es := &fakeEventStore{queryResults: []types.EvidenceItem{event("a"), event("b")}}
	gs := &fakeGraphStore{results: []types.EvidenceItem{event("b"), event("c")}}
	e := newTestExecutor(es, gs, 0)

	res, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL(), validCypher()})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Evidence, 3)
	// Chronological leg first, graph additions after, duplicates dropped.
	assert.Equal(t, "a", res.Evidence[0].ID)
	assert.Equal(t, "b", res.Evidence[1].ID)
	assert.Equal(t, "c", res.Evidence[2].ID)
}

func TestExecuteFanOutPartialOnOneFailedLeg(t *testing.T) {
	es := &fakeEventStore{queryResults: []types.EvidenceItem{event("a")}}
	gs := &fakeGraphStore{err: errors.New("i/o timeout")}
	e := newTestExecutor(es, gs, 0)

	res, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL(), validCypher()})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "a", res.Evidence[0].ID)
}

func TestExecuteFanOutFailsWhenAllLegsFail(t *testing.T) {
	es := &fakeEventStore{queryErrs: []error{errors.New("connection refused")}}
	gs := &fakeGraphStore{err: errors.New("connection refused")}
	e := newTestExecutor(es, gs, 0)

	_, err := e.Execute(context.Background(), []types.GeneratedQuery{validSQL(), validCypher()})
	require.Error(t, err)
	assert.Equal(t, types.KindStoreUnavailable, types.KindOf(err))
}

func TestExecuteVectorQueryAppliesRangeFilter(t *testing.T) {
	inRange := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	outOfRange := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	es := &fakeEventStore{searchHits: []store.ScoredEvent{
		{Event: types.EvidenceItem{ID: "in", TsStart: &inRange}, Score: 0.9},
		{Event: types.EvidenceItem{ID: "out", TsStart: &outOfRange}, Score: 0.8},
		{Event: types.EvidenceItem{ID: "undated"}, Score: 0.7},
	}}
	e := newTestExecutor(es, &fakeGraphStore{}, 0)

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	q := types.GeneratedQuery{
		Target: types.TargetEventStore,
		Op:     types.OpVector,
		Vector: []float32{1, 0},
		TopK:   10,
		Range:  &types.TimeRange{Start: &start, End: &end},
		Valid:  true,
	}
	res, err := e.Execute(context.Background(), []types.GeneratedQuery{q})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "in", res.Evidence[0].ID)
	assert.Equal(t, 0.9, res.Evidence[0].Score)
}

func chainEvent(id string, hop int) types.EvidenceItem {
	ev := event(id)
	ev.Hop = hop
	return ev
}

func TestExecuteListEventsPassesPlanParameters(t *testing.T) {
	es := &fakeEventStore{listed: []types.EvidenceItem{event("a"), event("b")}}
	e := newTestExecutor(es, &fakeGraphStore{}, 0)

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	q := types.GeneratedQuery{
		Target:   types.TargetEventStore,
		Op:       types.OpListEvents,
		EntityID: "e1",
		Range:    &types.TimeRange{Start: &start, End: &end},
		Limit:    50,
		Valid:    true,
	}
	res, err := e.Execute(context.Background(), []types.GeneratedQuery{q})
	require.NoError(t, err)
	assert.Len(t, res.Evidence, 2)
	assert.Equal(t, "e1", es.listParams.EntityID)
	assert.Equal(t, 50, es.listParams.Limit)
	require.NotNil(t, es.listParams.From)
	assert.Equal(t, start, *es.listParams.From)
	require.NotNil(t, es.listParams.To)
	assert.Equal(t, end, *es.listParams.To)
}

func TestExecuteChainUpstreamReadsCauseFirst(t *testing.T) {
	// Traversal results come back hop-ascending from the graph store; an
	// upstream chain is reversed so the deepest cause leads and the seed
	// event closes the chain at hop 0.
	es := &fakeEventStore{events: map[string]types.EvidenceItem{"a": event("a")}}
	gs := &fakeGraphStore{chain: []types.EvidenceItem{chainEvent("b", 1), chainEvent("c", 2)}}
	e := newTestExecutor(es, gs, 0)

	q := types.GeneratedQuery{
		Target:    types.TargetGraphStore,
		Op:        types.OpChain,
		EventID:   "a",
		Direction: types.DirectionUpstream,
		MaxHops:   5,
		Valid:     true,
	}
	res, err := e.Execute(context.Background(), []types.GeneratedQuery{q})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 3)
	assert.Equal(t, "c", res.Evidence[0].ID)
	assert.Equal(t, "b", res.Evidence[1].ID)
	assert.Equal(t, "a", res.Evidence[2].ID)
	assert.Equal(t, 0, res.Evidence[2].Hop)
}

func TestExecuteChainDownstreamLeadsWithSeed(t *testing.T) {
	es := &fakeEventStore{events: map[string]types.EvidenceItem{"a": event("a")}}
	gs := &fakeGraphStore{chain: []types.EvidenceItem{chainEvent("b", 1), chainEvent("c", 2)}}
	e := newTestExecutor(es, gs, 0)

	q := types.GeneratedQuery{
		Target:    types.TargetGraphStore,
		Op:        types.OpChain,
		EventID:   "a",
		Direction: types.DirectionDownstream,
		MaxHops:   5,
		Valid:     true,
	}
	res, err := e.Execute(context.Background(), []types.GeneratedQuery{q})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 3)
	assert.Equal(t, "a", res.Evidence[0].ID)
	assert.Equal(t, "b", res.Evidence[1].ID)
	assert.Equal(t, "c", res.Evidence[2].ID)
}

func TestExecuteChainDegradesWhenSeedLookupFails(t *testing.T) {
	es := &fakeEventStore{getEventErr: errors.New("row scan failed")}
	gs := &fakeGraphStore{chain: []types.EvidenceItem{chainEvent("b", 1)}}
	e := newTestExecutor(es, gs, 0)

	q := types.GeneratedQuery{
		Target:    types.TargetGraphStore,
		Op:        types.OpChain,
		EventID:   "a",
		Direction: types.DirectionUpstream,
		MaxHops:   5,
		Valid:     true,
	}
	res, err := e.Execute(context.Background(), []types.GeneratedQuery{q})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "b", res.Evidence[0].ID)
}

func TestExecuteTimelineFanOutSurfacesCausalNeighbors(t *testing.T) {
	// The subgraph leg must contribute causal neighbors the chronological
	// scan cannot see: events linked by CAUSES edges but involving other
	// entities.
	es := &fakeEventStore{listed: []types.EvidenceItem{event("t1"), event("t2")}}
	gs := &fakeGraphStore{subgraph: []types.EvidenceItem{event("t1"), event("neighbor")}}
	e := newTestExecutor(es, gs, 0)

	queries := []types.GeneratedQuery{
		{Target: types.TargetEventStore, Op: types.OpListEvents, EntityID: "e1", Limit: 50, Valid: true},
		{Target: types.TargetGraphStore, Op: types.OpSubgraph, EntityID: "e1", Limit: 50, Valid: true},
	}
	res, err := e.Execute(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, res.Evidence, 3)
	assert.Equal(t, "t1", res.Evidence[0].ID)
	assert.Equal(t, "t2", res.Evidence[1].ID)
	assert.Equal(t, "neighbor", res.Evidence[2].ID)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	es := &fakeEventStore{queryErrs: []error{errors.New("i/o timeout"), errors.New("i/o timeout")}}
	e := newTestExecutor(es, &fakeGraphStore{}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, []types.GeneratedQuery{validSQL()})
	require.Error(t, err)
}
