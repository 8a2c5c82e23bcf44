package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	r.Record(StageRecord{Stage: "classified"})
	r.Flush()
	require.NoError(t, r.Close())
}

func TestRecorderFlushesOnBufferFill(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 2, nil)
	require.NoError(t, err)

	r.Record(StageRecord{RequestID: "req1", Stage: "classified", DurationMs: 12})
	files, _ := filepath.Glob(filepath.Join(dir, "*.parquet"))
	assert.Empty(t, files, "buffer below threshold should not flush")

	r.Record(StageRecord{RequestID: "req1", Stage: "planned", DurationMs: 3})
	files, _ = filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.Len(t, files, 1)
}

func TestRecorderCloseFlushesRemainder(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 100, nil)
	require.NoError(t, err)

	r.Record(StageRecord{
		RequestID:     "req2",
		Stage:         "executed",
		Intent:        "CAUSAL_WHY",
		DurationMs:    250,
		EvidenceCount: 7,
		Timestamp:     time.Date(2024, 11, 15, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, r.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	rows, err := parquet.ReadFile[StageRecord](files[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "req2", rows[0].RequestID)
	assert.Equal(t, "executed", rows[0].Stage)
	assert.Equal(t, int64(250), rows[0].DurationMs)
	assert.Equal(t, 7, rows[0].EvidenceCount)
}

func TestRecorderStampsMissingTimestamp(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 1, nil)
	require.NoError(t, err)

	before := time.Now().UTC().Add(-time.Second)
	r.Record(StageRecord{RequestID: "req3", Stage: "synthesized"})

	files, _ := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.Len(t, files, 1)
	rows, err := parquet.ReadFile[StageRecord](files[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Timestamp.After(before))
	_ = os.Remove(files[0])
}
