package nlp

import (
	"fmt"
	"log/slog"

	"github.com/chronoquery/chronoquery/pkg/config"
)

// Provider identifiers accepted in model configuration.
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderRustBert = "rustbert"
)

// NewClient creates a provider client from a model configuration.
func NewClient(cfg config.NLPModelConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg)
	case ProviderGemini:
		return NewGeminiClient(cfg), nil
	case ProviderRustBert:
		return NewRustBertClient(), nil
	default:
		return nil, fmt.Errorf("unknown nlp provider %q: %w", cfg.Provider, ErrInvalidModel)
	}
}

// LanguageModels holds the per-task clients used by the pipeline. Query
// generation and intent classification run at temperature 0; synthesis
// runs with whatever temperature its model entry configures.
type LanguageModels struct {
	Intent    Client
	QueryGen  Client
	Synthesis Client
}

// NewLanguageModels builds the per-task clients from configuration. Each
// task uses its own model entry when present and falls back to "default".
// Every client is wrapped with retry and, when enabled, a circuit breaker.
func NewLanguageModels(cfg *config.Config, logger *slog.Logger) (*LanguageModels, error) {
	build := func(task string) (Client, error) {
		modelCfg, ok := cfg.NLP.Models[task]
		if !ok {
			modelCfg, ok = cfg.NLP.Models["default"]
			if !ok {
				return nil, fmt.Errorf("no model configured for task %q and no default", task)
			}
		}

		client, err := NewClient(modelCfg)
		if err != nil {
			return nil, fmt.Errorf("building %s client: %w", task, err)
		}

		var wrapped Client = NewRetryClient(client, nil)
		if cfg.CircuitBreaker.Enabled {
			wrapped = NewCircuitBreakerClient(wrapped, cfg.CircuitBreaker, logger, task)
		}
		return wrapped, nil
	}

	intent, err := build("intent")
	if err != nil {
		return nil, err
	}
	querygen, err := build("querygen")
	if err != nil {
		return nil, err
	}
	synthesis, err := build("synthesis")
	if err != nil {
		return nil, err
	}

	return &LanguageModels{
		Intent:    intent,
		QueryGen:  querygen,
		Synthesis: synthesis,
	}, nil
}

// Close closes all underlying clients, returning the first error.
func (m *LanguageModels) Close() error {
	var first error
	for _, c := range []Client{m.Intent, m.QueryGen, m.Synthesis} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
