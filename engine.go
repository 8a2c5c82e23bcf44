// Package chronoquery answers natural-language questions over a corpus
// of extracted events and causal relationships. The engine coordinates
// intent classification, temporal extraction, entity resolution,
// planning, LLM-mediated query generation, store execution, and
// evidence-grounded synthesis as a sequential pipeline per request.
package chronoquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/embedder"
	"github.com/chronoquery/chronoquery/pkg/executor"
	"github.com/chronoquery/chronoquery/pkg/gliner"
	"github.com/chronoquery/chronoquery/pkg/intent"
	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/planner"
	"github.com/chronoquery/chronoquery/pkg/querygen"
	"github.com/chronoquery/chronoquery/pkg/resolver"
	"github.com/chronoquery/chronoquery/pkg/store"
	"github.com/chronoquery/chronoquery/pkg/synthesis"
	"github.com/chronoquery/chronoquery/pkg/telemetry"
	"github.com/chronoquery/chronoquery/pkg/temporal"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Stage names of the request pipeline, in order.
const (
	StageReceived    = "received"
	StageClassified  = "classified"
	StageResolved    = "resolved"
	StagePlanned     = "planned"
	StageGenerated   = "generated"
	StageExecuted    = "executed"
	StageSynthesized = "synthesized"
	StageReturned    = "returned"
	StageErrored     = "errored"
)

// Engine answers questions. Each call is an independent execution with
// no shared mutable state across requests.
type Engine interface {
	// Answer runs the full pipeline for one question.
	Answer(ctx context.Context, q types.Question) (*types.SynthesizedAnswer, error)

	// Close releases every collaborator.
	Close(ctx context.Context) error
}

// Components are the wired collaborators of an engine. Exposed so tests
// and embedders can assemble an engine from fakes or custom stacks.
type Components struct {
	Classifier  *intent.Classifier
	Extractor   *temporal.Extractor
	Resolver    *resolver.Resolver
	Router      *planner.Router
	Generator   *querygen.Generator
	Executor    *executor.Executor
	Synthesizer *synthesis.Synthesizer

	EventStore store.EventStore
	GraphStore store.GraphStore
	Embedder   embedder.Client
	Models     *nlp.LanguageModels
	Recorder   *telemetry.Recorder
}

type engine struct {
	cfg    *config.Config
	c      Components
	logger *slog.Logger

	// now is swappable for deterministic temporal extraction in tests.
	now func() time.Time
}

// New wires a full engine from configuration: both stores, the
// embedding client, the per-task language models, the optional NER
// extractor, and every pipeline stage.
func New(cfg *config.Config, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	eventStore, err := store.NewPostgresEventStore(cfg.EventStore)
	if err != nil {
		return nil, fmt.Errorf("connecting event store: %w", err)
	}
	graphStore, err := store.NewNeo4jGraphStore(cfg.GraphStore)
	if err != nil {
		eventStore.Close()
		return nil, fmt.Errorf("connecting graph store: %w", err)
	}
	embedClient, err := embedder.NewFromConfig(cfg.Embedding)
	if err != nil {
		eventStore.Close()
		graphStore.Close(context.Background())
		return nil, fmt.Errorf("building embedding client: %w", err)
	}
	models, err := nlp.NewLanguageModels(cfg, logger)
	if err != nil {
		eventStore.Close()
		graphStore.Close(context.Background())
		embedClient.Close()
		return nil, fmt.Errorf("building language models: %w", err)
	}

	var ner *gliner.Client
	if cfg.NLP.NER.Enabled {
		ner, err = gliner.NewClient(cfg.NLP.NER.ModelPath, cfg.NLP.NER.Threshold)
		if err != nil {
			logger.Warn("NER model unavailable, continuing without span extraction", "error", err)
			ner = nil
		}
	}

	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.NewRecorder(cfg.Telemetry.ParquetPath, cfg.Telemetry.BufferSize, logger)
		if err != nil {
			logger.Warn("telemetry recorder unavailable", "error", err)
		}
	}

	components := Components{
		Classifier: intent.NewClassifier(models.Intent, logger),
		Extractor:  temporal.NewExtractor(nerOrNil(ner), cfg.Query.FiscalYearStartMonth, logger),
		Resolver: resolver.New(eventStore, embedClient, resolverNER(ner), resolver.Options{
			FuzzyThreshold:     cfg.Query.FuzzyMatchThreshold,
			EmbeddingThreshold: cfg.Query.EmbeddingMatchThreshold,
			CandidateLimit:     cfg.Query.CandidateLimit,
		}, logger),
		Router:      planner.NewRouter(eventStore, embedClient, cfg.Query, logger),
		Generator:   querygen.NewGenerator(models.QueryGen, cfg.Query.MaxGenerationAttempts, logger),
		Executor:    executor.New(eventStore, graphStore, cfg.Query, logger),
		Synthesizer: synthesis.New(models.Synthesis, logger),
		EventStore:  eventStore,
		GraphStore:  graphStore,
		Embedder:    embedClient,
		Models:      models,
		Recorder:    recorder,
	}
	return NewWithComponents(cfg, components, logger), nil
}

// NewWithComponents assembles an engine from pre-built collaborators.
func NewWithComponents(cfg *config.Config, c Components, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &engine{cfg: cfg, c: c, logger: logger, now: time.Now}
}

// nerOrNil converts a possibly-nil concrete client into the temporal
// extractor's interface without producing a typed nil.
func nerOrNil(c *gliner.Client) temporal.NERClient {
	if c == nil {
		return nil
	}
	return c
}

func resolverNER(c *gliner.Client) resolver.NERClient {
	if c == nil {
		return nil
	}
	return c
}

// Answer runs the pipeline: classify, extract, resolve, plan, generate,
// execute, synthesize. On a planner failure after a low-confidence
// classification, it retries once with the fallback intent before truly
// failing. The whole request runs under one deadline; partial evidence
// still yields an answer with reduced confidence.
func (e *engine) Answer(ctx context.Context, q types.Question) (*types.SynthesizedAnswer, error) {
	correlationID := uuid.New().String()
	log := e.logger.With("correlation_id", correlationID)

	deadline := e.cfg.Query.RequestDeadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	e.record(correlationID, StageReceived, "", 0, 0, nil)
	answer, err := e.answer(ctx, q, correlationID, log)
	if err != nil {
		e.record(correlationID, StageErrored, "", 0, 0, err)
		return nil, withCorrelation(err, correlationID)
	}
	e.record(correlationID, StageReturned, string(answer.Intent), 0, len(answer.Chain), nil)
	return answer, nil
}

func (e *engine) answer(ctx context.Context, q types.Question, correlationID string, log *slog.Logger) (*types.SynthesizedAnswer, error) {
	started := time.Now()

	// CLASSIFIED
	intentResult, err := e.c.Classifier.Classify(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	e.record(correlationID, StageClassified, string(intentResult.Intent), time.Since(started).Milliseconds(), 0, nil)
	log.Info("classified", "intent", intentResult.Intent, "confidence", intentResult.Confidence, "method", intentResult.Method)

	// Temporal extraction is part of resolution.
	stageStart := time.Now()
	timeRange, err := e.c.Extractor.Extract(q.Text, q.TimeRange, e.now())
	if err != nil {
		return nil, err
	}

	// RESOLVED
	entities, err := e.c.Resolver.ResolveQuestion(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.EntityFilter != "" && len(entities) == 0 {
		return nil, types.NewQueryError(types.KindEntityNotFound,
			"no entity matched %q; try broadening the query or removing the entity filter", q.EntityFilter)
	}
	e.record(correlationID, StageResolved, string(intentResult.Intent), time.Since(stageStart).Milliseconds(), len(entities), nil)

	input := planner.Input{
		Question:      q,
		Intent:        intentResult,
		Range:         timeRange,
		Entities:      entities,
		CorrelationID: correlationID,
	}

	// The one allowed fallback: when a low-confidence classification
	// errors anywhere downstream, retry the tail once under the
	// fallback intent before truly failing.
	answer, err := e.planAndRun(ctx, input, timeRange, log)
	if err != nil && intentResult.Confidence < e.cfg.Query.IntentConfidenceThreshold {
		fallback := intent.FallbackIntent(q)
		if fallback != intentResult.Intent {
			log.Warn("pipeline failed after low-confidence classification, retrying with fallback intent",
				"intent", intentResult.Intent, "fallback", fallback, "error", err)
			input.Intent = types.IntentResult{Intent: fallback, Confidence: intentResult.Confidence, Method: "fallback"}
			answer, err = e.planAndRun(ctx, input, timeRange, log)
			if err != nil && !infrastructureFailure(err) {
				err = types.WrapQueryError(types.KindClassificationAmbiguous, err,
					"could not answer under intent %q or fallback %q; rephrase the question",
					intentResult.Intent, fallback)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	answer.Sources = e.sources(ctx, answer.Chain, log)
	return answer, nil
}

// planAndRun is the tail of the pipeline: plan, generate, execute,
// synthesize.
func (e *engine) planAndRun(ctx context.Context, input planner.Input, timeRange types.TimeRange, log *slog.Logger) (*types.SynthesizedAnswer, error) {
	correlationID := input.CorrelationID

	// PLANNED
	stageStart := time.Now()
	plan, err := e.c.Router.Plan(ctx, input)
	if err != nil {
		return nil, err
	}
	e.record(correlationID, StagePlanned, string(input.Intent.Intent), time.Since(stageStart).Milliseconds(), 0, nil)

	// GENERATED
	stageStart = time.Now()
	queries, err := e.c.Generator.Generate(ctx, input.Question.Text, plan)
	if err != nil {
		return nil, err
	}
	e.record(correlationID, StageGenerated, string(input.Intent.Intent), time.Since(stageStart).Milliseconds(), 0, nil)

	// EXECUTED
	stageStart = time.Now()
	result, err := e.c.Executor.Execute(ctx, queries)
	if err != nil {
		return nil, err
	}
	e.record(correlationID, StageExecuted, string(input.Intent.Intent), time.Since(stageStart).Milliseconds(), len(result.Evidence), nil)
	log.Info("executed", "evidence", len(result.Evidence), "partial", result.Partial)

	// SYNTHESIZED
	stageStart = time.Now()
	answer, err := e.c.Synthesizer.Synthesize(ctx, synthesis.Input{
		Question:          input.Question,
		Intent:            input.Intent.Intent,
		Range:             timeRange,
		PlannerConfidence: plan.Confidence,
		Evidence:          result.Evidence,
		Partial:           result.Partial,
	})
	if err != nil {
		return nil, err
	}
	e.record(correlationID, StageSynthesized, string(answer.Intent), time.Since(stageStart).Milliseconds(), len(answer.Chain), nil)
	return answer, nil
}

// sources resolves the cited evidence's documents. Failure to fetch
// sources degrades the answer's provenance, not the answer itself.
func (e *engine) sources(ctx context.Context, chain []types.EvidenceItem, log *slog.Logger) []types.SourceReference {
	var ids []string
	seen := make(map[string]bool)
	for _, item := range chain {
		if item.DocumentID != "" && !seen[item.DocumentID] {
			seen[item.DocumentID] = true
			ids = append(ids, item.DocumentID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sources, err := e.c.EventStore.FetchDocuments(ctx, ids)
	if err != nil {
		log.Warn("failed to fetch source documents", "error", err)
		return nil
	}
	return sources
}

func (e *engine) record(requestID, stage, intentName string, durationMs int64, evidenceCount int, err error) {
	rec := telemetry.StageRecord{
		RequestID:     requestID,
		Stage:         stage,
		Intent:        intentName,
		DurationMs:    durationMs,
		EvidenceCount: evidenceCount,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	e.c.Recorder.Record(rec)
}

// infrastructureFailure reports whether an error is a store outage. An
// outage under any intent is still an outage, never evidence that the
// question itself was ambiguous.
func infrastructureFailure(err error) bool {
	switch types.KindOf(err) {
	case types.KindStoreTimeout, types.KindStoreUnavailable:
		return true
	}
	return false
}

// withCorrelation stamps the correlation ID onto the outermost
// QueryError so callers can trace the failure.
func withCorrelation(err error, correlationID string) error {
	var qe *types.QueryError
	if errors.As(err, &qe) {
		qe.CorrelationID = correlationID
		return err
	}
	wrapped := types.WrapQueryError(types.KindStoreUnavailable, err, "request failed")
	wrapped.CorrelationID = correlationID
	return wrapped
}

// Close shuts down every collaborator the engine owns.
func (e *engine) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.c.Models != nil {
		keep(e.c.Models.Close())
	}
	if e.c.Embedder != nil {
		keep(e.c.Embedder.Close())
	}
	if e.c.EventStore != nil {
		keep(e.c.EventStore.Close())
	}
	if e.c.GraphStore != nil {
		keep(e.c.GraphStore.Close(ctx))
	}
	if e.c.Recorder != nil {
		keep(e.c.Recorder.Close())
	}
	return firstErr
}
