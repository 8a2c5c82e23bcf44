package embedder

import (
	"fmt"

	"github.com/chronoquery/chronoquery/pkg/config"
)

// NewFromConfig builds the configured embedding client, wrapping it with
// the badger cache when a cache path is set.
func NewFromConfig(cfg config.EmbeddingConfig) (Client, error) {
	base := Config{
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}

	var client Client
	var err error
	switch cfg.Provider {
	case "openai", "":
		client = NewOpenAIEmbedder(cfg.APIKey, base)
	case "embedeverything":
		client, err = NewEmbedEverythingClient(base)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CachePath != "" {
		return NewCachedClient(client, cfg.CachePath, cfg.Model)
	}
	return client, nil
}
