// Package gliner wraps the go-gline-rs span extraction model for
// zero-shot recognition of entity mentions and temporal expressions in
// question text.
package gliner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/soundprediction/go-gline-rs/pkg/gline"
)

// Labels used by the query pipeline.
const (
	LabelEntity       = "entity"
	LabelOrganization = "organization"
	LabelDate         = "date"
	LabelTimePeriod   = "time period"
)

// Entity is a single extracted span.
type Entity struct {
	Text  string
	Label string
	Score float32
}

// Client holds a loaded span model. Model inference is not reentrant, so
// calls are serialized.
type Client struct {
	spanModel *gline.Model
	threshold float32
	mu        sync.Mutex
}

// NewClient loads a span model from a local directory (expecting
// model.onnx and tokenizer.json) or a Hugging Face model ID.
func NewClient(modelID string, threshold float32) (*Client, error) {
	if err := gline.Init(); err != nil {
		return nil, fmt.Errorf("failed to init gline: %w", err)
	}

	if _, err := os.Stat(modelID); err == nil {
		modelPath := filepath.Join(modelID, "model.onnx")
		tokPath := filepath.Join(modelID, "tokenizer.json")
		m, err := gline.NewSpanModel(modelPath, tokPath)
		if err != nil {
			return nil, err
		}
		return &Client{spanModel: m, threshold: threshold}, nil
	}

	m, err := gline.NewSpanModelFromHF(modelID)
	if err != nil {
		return nil, err
	}
	return &Client{spanModel: m, threshold: threshold}, nil
}

// ExtractEntities returns spans in text matching the given labels, with
// scores below the client threshold filtered out.
func (c *Client) ExtractEntities(text string, labels []string) ([]Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spanModel == nil {
		return nil, fmt.Errorf("span model not loaded")
	}

	results, err := c.spanModel.Predict([]string{text}, labels)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return []Entity{}, nil
	}

	var entities []Entity
	for _, e := range results[0] {
		if e.Probability < c.threshold {
			continue
		}
		entities = append(entities, Entity{
			Text:  e.Text,
			Label: e.Label,
			Score: e.Probability,
		})
	}
	return entities, nil
}

// Close releases the native model.
func (c *Client) Close() {
	if c.spanModel != nil {
		c.spanModel.Close()
	}
}
