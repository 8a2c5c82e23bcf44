package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildListEventsQuery(t *testing.T) {
	from := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)

	t.Run("entity and range", func(t *testing.T) {
		query, args := buildListEventsQuery(ListEventsParams{
			EntityID: "ent-1",
			From:     &from,
			To:       &to,
			Limit:    50,
		})
		assert.Contains(t, query, "JOIN event_entities")
		assert.Contains(t, query, "ee.entity_id = $1")
		assert.Contains(t, query, "e.ts_start >= $2")
		assert.Contains(t, query, "e.ts_start <= $3")
		assert.Contains(t, query, "LIMIT $4")
		assert.Contains(t, query, "ORDER BY e.ts_start ASC, e.id ASC")
		assert.Equal(t, []any{"ent-1", from, to, 50}, args)
	})

	t.Run("unfiltered", func(t *testing.T) {
		query, args := buildListEventsQuery(ListEventsParams{Limit: 10})
		assert.NotContains(t, query, "JOIN")
		assert.Contains(t, query, "LIMIT $1")
		assert.Equal(t, []any{10}, args)
	})

	t.Run("offset for pagination", func(t *testing.T) {
		query, args := buildListEventsQuery(ListEventsParams{Limit: 10, Offset: 20})
		assert.Contains(t, query, "OFFSET $2")
		assert.Equal(t, []any{10, 20}, args)
	})
}

func TestEvidenceFromColumns(t *testing.T) {
	ts := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

	item := evidenceFromColumns(
		[]string{"event_id", "description", "ts_start", "confidence", "hop", "extra_col"},
		[]any{"ev-1", []byte("revenue dropped"), ts, 0.9, int64(2), "ignored"},
	)

	assert.Equal(t, "ev-1", item.ID)
	assert.Equal(t, "revenue dropped", item.Description)
	assert.NotNil(t, item.TsStart)
	assert.Equal(t, ts, *item.TsStart)
	assert.Equal(t, 0.9, item.Confidence)
	assert.Equal(t, 2, item.Hop)
}

func TestEvidenceFromColumnsNullsIgnored(t *testing.T) {
	item := evidenceFromColumns(
		[]string{"event_id", "ts_start", "confidence"},
		[]any{"ev-2", nil, nil},
	)
	assert.Equal(t, "ev-2", item.ID)
	assert.Nil(t, item.TsStart)
	assert.Zero(t, item.Confidence)
}

func TestAsFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(1.5), 1.5, true},
		{float32(2), 2, true},
		{int64(3), 3, true},
		{[]byte("4.25"), 4.25, true},
		{"nope", 0, false},
	}
	for _, tt := range tests {
		got, ok := asFloat(tt.in)
		assert.Equal(t, tt.ok, ok)
		if ok {
			assert.InDelta(t, tt.want, got, 1e-9)
		}
	}
}
