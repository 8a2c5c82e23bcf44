// Package resolver maps entity mentions from questions onto canonical
// entities in the event store through a tiered cascade: exact match,
// alias match, fuzzy string match, then embedding similarity. The first
// tier that produces any match wins; later tiers never run.
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/chronoquery/chronoquery/pkg/embedder"
	"github.com/chronoquery/chronoquery/pkg/gliner"
	"github.com/chronoquery/chronoquery/pkg/store"
	"github.com/chronoquery/chronoquery/pkg/types"
	"github.com/chronoquery/chronoquery/pkg/utils"
)

// NERClient is the span extractor surface used to find entity mentions in
// question text. Satisfied by *gliner.Client; nil disables NER mentions.
type NERClient interface {
	ExtractEntities(text string, labels []string) ([]gliner.Entity, error)
}

// Options holds the cascade thresholds and limits.
type Options struct {
	// FuzzyThreshold is the minimum Levenshtein ratio for a fuzzy match.
	FuzzyThreshold float64
	// EmbeddingThreshold is the minimum cosine similarity for an
	// embedding match.
	EmbeddingThreshold float64
	// CandidateLimit bounds the candidate lookup per mention.
	CandidateLimit int
}

// Resolver resolves mentions against the entity catalog.
type Resolver struct {
	store    store.EventStore
	embedder embedder.Client
	ner      NERClient
	opts     Options
	logger   *slog.Logger
}

// New creates a resolver. The embedder may be nil, which disables the
// embedding tier.
func New(eventStore store.EventStore, embedClient embedder.Client, ner NERClient, opts Options, logger *slog.Logger) *Resolver {
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = 0.75
	}
	if opts.EmbeddingThreshold <= 0 {
		opts.EmbeddingThreshold = 0.8
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    eventStore,
		embedder: embedClient,
		ner:      ner,
		opts:     opts,
		logger:   logger,
	}
}

// ResolveMention resolves a single mention. An empty result is a valid
// outcome, not an error; the caller decides whether absence is fatal.
func (r *Resolver) ResolveMention(ctx context.Context, mention string) ([]types.ResolvedEntity, error) {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return nil, nil
	}

	candidates, err := r.store.CandidateEntities(ctx, mention, r.opts.CandidateLimit)
	if err != nil {
		return nil, types.WrapQueryError(types.KindStoreUnavailable, err, "candidate entity lookup failed")
	}

	normalized := utils.NormalizeName(mention)

	// Tier 1: exact name or canonical name match.
	var matched []types.ResolvedEntity
	for _, c := range candidates {
		if utils.NormalizeName(c.Name) == normalized || utils.NormalizeName(c.CanonicalName) == normalized {
			matched = append(matched, resolved(c, types.ResolutionExact, 1.0))
		}
	}
	if len(matched) > 0 {
		return sortResolved(matched), nil
	}

	// Tier 2: alias match.
	for _, c := range candidates {
		for _, alias := range c.Aliases {
			if utils.NormalizeName(alias) == normalized {
				matched = append(matched, resolved(c, types.ResolutionAlias, 0.95))
				break
			}
		}
	}
	if len(matched) > 0 {
		return sortResolved(matched), nil
	}

	// Tier 3: fuzzy match against names and aliases.
	for _, c := range candidates {
		best := utils.LevenshteinRatio(normalized, utils.NormalizeName(c.CanonicalName))
		if ratio := utils.LevenshteinRatio(normalized, utils.NormalizeName(c.Name)); ratio > best {
			best = ratio
		}
		for _, alias := range c.Aliases {
			if ratio := utils.LevenshteinRatio(normalized, utils.NormalizeName(alias)); ratio > best {
				best = ratio
			}
		}
		if best >= r.opts.FuzzyThreshold {
			matched = append(matched, resolved(c, types.ResolutionFuzzy, best))
		}
	}
	if len(matched) > 0 {
		return sortResolved(matched), nil
	}

	// Tier 4: embedding similarity over the whole catalog.
	if r.embedder == nil {
		return nil, nil
	}
	vector, err := r.embedder.EmbedSingle(ctx, mention)
	if err != nil {
		r.logger.Warn("mention embedding failed, skipping embedding tier", "mention", mention, "error", err)
		return nil, nil
	}
	hits, err := r.store.SearchEntitiesByEmbedding(ctx, vector, r.opts.CandidateLimit)
	if err != nil {
		return nil, types.WrapQueryError(types.KindStoreUnavailable, err, "entity embedding search failed")
	}
	for _, c := range hits {
		if c.Score >= r.opts.EmbeddingThreshold {
			matched = append(matched, resolved(c, types.ResolutionEmbedding, c.Score))
		}
	}
	return sortResolved(matched), nil
}

// ResolveQuestion resolves every mention in a question: the explicit
// entity filter (if set) plus NER-extracted spans from the text. Results
// are deduplicated by entity ID, keeping the highest-scoring resolution.
func (r *Resolver) ResolveQuestion(ctx context.Context, q types.Question) ([]types.ResolvedEntity, error) {
	type mention struct {
		text   string
		offset int
	}
	var mentions []mention

	if q.EntityFilter != "" {
		// Explicit filters carry no position in the text.
		mentions = append(mentions, mention{text: q.EntityFilter, offset: -1})
	}

	if r.ner != nil {
		spans, err := r.ner.ExtractEntities(q.Text, []string{gliner.LabelEntity, gliner.LabelOrganization})
		if err != nil {
			r.logger.Warn("entity span extraction failed", "error", err)
		} else {
			for _, span := range spans {
				mentions = append(mentions, mention{
					text:   span.Text,
					offset: strings.LastIndex(q.Text, span.Text),
				})
			}
		}
	}

	byID := make(map[string]types.ResolvedEntity)
	for _, m := range mentions {
		entities, err := r.ResolveMention(ctx, m.text)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			e.MentionOffset = m.offset
			existing, ok := byID[e.ID]
			if !ok || e.Score > existing.Score ||
				(e.Score == existing.Score && e.MentionOffset > existing.MentionOffset) {
				byID[e.ID] = e
			}
		}
	}

	out := make([]types.ResolvedEntity, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	return sortResolved(out), nil
}

func resolved(c store.EntityRecord, method types.ResolutionMethod, score float64) types.ResolvedEntity {
	return types.ResolvedEntity{
		ID:            c.ID,
		CanonicalName: c.CanonicalName,
		EntityType:    c.EntityType,
		Method:        method,
		Score:         score,
		MentionOffset: -1,
	}
}

// sortResolved orders by score descending, then ID ascending so equal
// scores are deterministic.
func sortResolved(entities []types.ResolvedEntity) []types.ResolvedEntity {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		return entities[i].ID < entities[j].ID
	})
	return entities
}
