package nlp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/soundprediction/go-rust-bert/pkg/rustbert"
)

// RustBertClient implements the Client interface on top of a local
// rust-bert text generation model. Useful for offline development and
// tests; not intended for production-quality synthesis.
type RustBertClient struct {
	mu    sync.Mutex
	model *rustbert.TextGenerationModel
}

// NewRustBertClient creates a new local text generation client. The model
// is loaded lazily on first use because loading is slow and allocates
// native resources.
func NewRustBertClient() *RustBertClient {
	return &RustBertClient{}
}

func (r *RustBertClient) loadLocked() error {
	if r.model != nil {
		return nil
	}
	m, err := rustbert.NewTextGenerationModel()
	if err != nil {
		return fmt.Errorf("failed to load text generation model: %w", err)
	}
	r.model = m
	return nil
}

// Chat flattens the conversation into a single prompt and generates a
// completion. The native model call cannot be cancelled mid-flight, so
// ctx is checked only before the call.
func (r *RustBertClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(); err != nil {
		return nil, err
	}

	result, err := r.model.Generate(sb.String(), "")
	if err != nil {
		return nil, fmt.Errorf("text generation failed: %w", err)
	}
	if result == "" {
		return nil, NewEmptyResponseError("local model returned no text")
	}

	return &Response{Content: result}, nil
}

// Close releases the native model.
func (r *RustBertClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = nil
	return nil
}
