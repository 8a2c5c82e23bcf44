// Package telemetry records per-request pipeline stage timings into
// Parquet files for offline analysis. Recording never fails a request:
// write errors are logged and dropped.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// StageRecord is one pipeline stage timing for one request.
type StageRecord struct {
	RequestID     string    `parquet:"request_id"`
	Stage         string    `parquet:"stage"`
	Intent        string    `parquet:"intent"`
	DurationMs    int64     `parquet:"duration_ms"`
	EvidenceCount int       `parquet:"evidence_count"`
	Err           string    `parquet:"error"`
	Timestamp     time.Time `parquet:"timestamp"`
}

// Recorder buffers stage records and flushes them to a new Parquet file
// whenever the buffer fills. A nil *Recorder is a no-op, so callers
// never need to branch on whether telemetry is enabled.
type Recorder struct {
	outputDir  string
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	buffer []StageRecord
}

// NewRecorder creates a recorder writing under outputDir.
func NewRecorder(outputDir string, bufferSize int, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		outputDir:  outputDir,
		bufferSize: bufferSize,
		logger:     logger,
		buffer:     make([]StageRecord, 0, bufferSize),
	}, nil
}

// Record buffers one stage record, flushing when the buffer fills.
func (r *Recorder) Record(rec StageRecord) {
	if r == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, rec)
	if len(r.buffer) >= r.bufferSize {
		r.flushLocked()
	}
}

// Flush writes any buffered records immediately.
func (r *Recorder) Flush() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Close flushes remaining records.
func (r *Recorder) Close() error {
	r.Flush()
	return nil
}

// flushLocked writes the buffer to a fresh Parquet file. Caller holds
// the lock.
func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	filename := fmt.Sprintf("query_stages_%s_%d.parquet", time.Now().Format("20060102_150405"), time.Now().UnixNano())
	path := filepath.Join(r.outputDir, filename)
	if err := parquet.WriteFile(path, r.buffer); err != nil {
		r.logger.Warn("failed to write telemetry parquet file", "path", path, "error", err)
		return
	}
	r.buffer = r.buffer[:0]
}
