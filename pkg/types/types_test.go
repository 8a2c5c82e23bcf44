package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentValid(t *testing.T) {
	assert.True(t, IntentCausalWhy.Valid())
	assert.True(t, IntentTemporalRange.Valid())
	assert.True(t, IntentSimilarity.Valid())
	assert.True(t, IntentEntityTimeline.Valid())
	assert.False(t, Intent("").Valid())
	assert.False(t, Intent("CAUSAL").Valid())
}

func TestTimeRange(t *testing.T) {
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 30, 23, 59, 59, 0, time.UTC)

	t.Run("unbounded", func(t *testing.T) {
		var r TimeRange
		assert.True(t, r.Unbounded())
		assert.NoError(t, r.Validate())
		assert.True(t, r.Contains(time.Now()))
	})

	t.Run("bounded contains", func(t *testing.T) {
		r := TimeRange{Start: &start, End: &end}
		assert.False(t, r.Unbounded())
		assert.NoError(t, r.Validate())
		assert.True(t, r.Contains(time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("open start", func(t *testing.T) {
		r := TimeRange{End: &end}
		assert.True(t, r.Contains(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		r := TimeRange{Start: &end, End: &start}
		assert.Error(t, r.Validate())
	})
}

func TestQueryPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    QueryPlan
		wantErr bool
	}{
		{
			name:    "causal ok",
			plan:    QueryPlan{Kind: PlanCausal, Causal: &CausalPlan{AnchorEntityID: "e1", MaxHops: 5, Direction: DirectionUpstream}},
			wantErr: false,
		},
		{
			name:    "temporal ok",
			plan:    QueryPlan{Kind: PlanTemporal, Temporal: &TemporalPlan{PageSize: 50}},
			wantErr: false,
		},
		{
			name:    "no variant",
			plan:    QueryPlan{Kind: PlanCausal},
			wantErr: true,
		},
		{
			name: "two variants",
			plan: QueryPlan{
				Kind:     PlanCausal,
				Causal:   &CausalPlan{},
				Temporal: &TemporalPlan{},
			},
			wantErr: true,
		},
		{
			name:    "kind mismatch",
			plan:    QueryPlan{Kind: PlanSimilarity, Causal: &CausalPlan{}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			plan:    QueryPlan{Kind: PlanKind("bogus"), Causal: &CausalPlan{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueryError(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := NewQueryError(KindEntityNotFound, "no entity matched %q", "Acme")
		assert.Equal(t, `entity_not_found: no entity matched "Acme"`, err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("wrapped cause", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := WrapQueryError(KindStoreUnavailable, cause, "event store query failed")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("Is matches by kind", func(t *testing.T) {
		err := NewQueryError(KindStoreTimeout, "graph store call exceeded deadline")
		assert.True(t, errors.Is(err, &QueryError{Kind: KindStoreTimeout}))
		assert.False(t, errors.Is(err, &QueryError{Kind: KindStoreUnavailable}))
	})

	t.Run("KindOf unwraps", func(t *testing.T) {
		inner := NewQueryError(KindTemporalParse, "bad range")
		outer := fmt.Errorf("pipeline stage failed: %w", inner)
		assert.Equal(t, KindTemporalParse, KindOf(outer))
		assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
		assert.Equal(t, ErrorKind(""), KindOf(nil))
	})

	t.Run("correlation id preserved", func(t *testing.T) {
		err := NewQueryError(KindSynthesisEmpty, "no evidence retrieved")
		err.CorrelationID = "req-123"
		require.Equal(t, "req-123", err.CorrelationID)
	})
}
