package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// EventStore configuration (Postgres with pgvector)
	EventStore EventStoreConfig `mapstructure:"event_store"`

	// GraphStore configuration (Neo4j)
	GraphStore GraphStoreConfig `mapstructure:"graph_store"`

	// NLP configuration
	NLP NLPConfig `mapstructure:"nlp"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Query pipeline configuration
	Query QueryConfig `mapstructure:"query"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// EventStoreConfig holds Postgres event store configuration
type EventStoreConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// GraphStoreConfig holds Neo4j graph store configuration
type GraphStoreConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// NLPConfig holds NLP configuration
type NLPConfig struct {
	// Models is a map of model configurations keyed by task
	// ("intent", "querygen", "synthesis"), plus "default" as the
	// fallback for any task without its own entry.
	Models map[string]NLPModelConfig `mapstructure:"models"`

	// NER configures the span extractor used for temporal mentions and
	// entity candidates. Optional; regex extraction covers its absence.
	NER NERConfig `mapstructure:"ner"`
}

// NLPModelConfig holds configuration for a specific model
type NLPModelConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, gemini, rustbert
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// NERConfig holds configuration for the span extraction model
type NERConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	ModelPath string  `mapstructure:"model_path"`
	Threshold float32 `mapstructure:"threshold"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // openai, embedeverything
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	// CachePath enables a local badger cache for embedding vectors when
	// non-empty.
	CachePath string `mapstructure:"cache_path"`
}

// QueryConfig holds thresholds and limits for the query pipeline
type QueryConfig struct {
	IntentConfidenceThreshold float64 `mapstructure:"intent_confidence_threshold"`
	FuzzyMatchThreshold       float64 `mapstructure:"fuzzy_match_threshold"`
	EmbeddingMatchThreshold   float64 `mapstructure:"embedding_match_threshold"`
	CandidateLimit            int     `mapstructure:"candidate_limit"`
	DefaultMaxHops            int     `mapstructure:"default_max_hops"`
	MaxHopLimit               int     `mapstructure:"max_hop_limit"`
	TemporalPageSize          int     `mapstructure:"temporal_page_size"`
	SimilarityTopK            int     `mapstructure:"similarity_top_k"`
	SimilarityMinScore        float64 `mapstructure:"similarity_min_score"`
	SeedLimit                 int     `mapstructure:"seed_limit"`
	SeedMinScore              float64 `mapstructure:"seed_min_score"`
	MaxGenerationAttempts     int     `mapstructure:"max_generation_attempts"`
	StoreCallTimeout          time.Duration `mapstructure:"store_call_timeout"`
	RequestDeadline           time.Duration `mapstructure:"request_deadline"`
	StoreRetryMax             int     `mapstructure:"store_retry_max"`
	// FiscalYearStartMonth anchors fiscal quarter parsing; 1 means the
	// fiscal year starts in January (calendar quarters).
	FiscalYearStartMonth int `mapstructure:"fiscal_year_start_month"`
}

// CircuitBreakerConfig holds configuration for circuit breaking around
// LLM calls
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ParquetPath string `mapstructure:"parquet_path"`
	BufferSize  int    `mapstructure:"buffer_size"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// Default returns a configuration populated with defaults only, with no
// file or environment lookups. Intended for tests and embedders.
func Default() *Config {
	setDefaults()
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return &Config{}
	}
	return config
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Event store defaults
	viper.SetDefault("event_store.dsn", "postgres://localhost:5432/chronoquery?sslmode=disable")
	viper.SetDefault("event_store.max_open_conns", 10)
	viper.SetDefault("event_store.max_idle_conns", 5)

	// Graph store defaults
	viper.SetDefault("graph_store.uri", "bolt://localhost:7687")
	viper.SetDefault("graph_store.username", "neo4j")
	viper.SetDefault("graph_store.password", "")
	viper.SetDefault("graph_store.database", "")

	viper.SetDefault("nlp.models.default.provider", "openai")
	viper.SetDefault("nlp.models.default.model", "gpt-4o-mini")
	viper.SetDefault("nlp.models.default.temperature", 0.0)
	viper.SetDefault("nlp.models.default.max_tokens", 1024)

	viper.SetDefault("nlp.models.synthesis.provider", "openai")
	viper.SetDefault("nlp.models.synthesis.model", "gpt-4o-mini")
	viper.SetDefault("nlp.models.synthesis.temperature", 0.3)
	viper.SetDefault("nlp.models.synthesis.max_tokens", 2048)

	viper.SetDefault("nlp.ner.enabled", false)
	viper.SetDefault("nlp.ner.threshold", 0.5)

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")

	// Query pipeline defaults
	viper.SetDefault("query.intent_confidence_threshold", 0.6)
	viper.SetDefault("query.fuzzy_match_threshold", 0.75)
	viper.SetDefault("query.embedding_match_threshold", 0.8)
	viper.SetDefault("query.candidate_limit", 20)
	viper.SetDefault("query.default_max_hops", 5)
	viper.SetDefault("query.max_hop_limit", 10)
	viper.SetDefault("query.temporal_page_size", 50)
	viper.SetDefault("query.similarity_top_k", 10)
	viper.SetDefault("query.similarity_min_score", 0.2)
	viper.SetDefault("query.seed_limit", 3)
	viper.SetDefault("query.seed_min_score", 0.2)
	viper.SetDefault("query.max_generation_attempts", 3)
	viper.SetDefault("query.store_call_timeout", 10*time.Second)
	viper.SetDefault("query.request_deadline", 60*time.Second)
	viper.SetDefault("query.store_retry_max", 2)
	viper.SetDefault("query.fiscal_year_start_month", 1)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.buffer_size", 256)
	home, err := os.UserHomeDir()
	if err == nil {
		defaultPath := fmt.Sprintf("%s/.chronoquery/telemetry", home)
		viper.SetDefault("telemetry.parquet_path", defaultPath)
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// Initialize Models map if nil
	if config.NLP.Models == nil {
		config.NLP.Models = make(map[string]NLPModelConfig)
	}

	// Helper to get or create model config
	getModel := func(name string) NLPModelConfig {
		if c, ok := config.NLP.Models[name]; ok {
			return c
		}
		return NLPModelConfig{}
	}

	// Update default model from env
	defaultModel := getModel("default")
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		defaultModel.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && defaultModel.Provider == "gemini" {
		defaultModel.APIKey = apiKey
	}
	config.NLP.Models["default"] = defaultModel

	// Synthesis model inherits the same key unless set explicitly
	synthModel := getModel("synthesis")
	if synthModel.APIKey == "" && defaultModel.APIKey != "" {
		synthModel.APIKey = defaultModel.APIKey
	}
	config.NLP.Models["synthesis"] = synthModel

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = apiKey
	}

	// Event store
	if dsn := os.Getenv("EVENT_STORE_DSN"); dsn != "" {
		config.EventStore.DSN = dsn
	}

	// Graph store credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.GraphStore.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.GraphStore.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.GraphStore.Password = pass
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		viper.Set("server.port", port)
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}
