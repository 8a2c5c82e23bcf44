package resolver

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoquery/chronoquery/pkg/gliner"
	"github.com/chronoquery/chronoquery/pkg/store"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// fakeEventStore serves a fixed entity catalog. Candidate lookup returns
// the whole catalog so the tier logic under test sees every entity.
type fakeEventStore struct {
	store.EventStore
	entities      []store.EntityRecord
	embeddingHits []store.EntityRecord
}

func (f *fakeEventStore) CandidateEntities(ctx context.Context, mention string, limit int) ([]store.EntityRecord, error) {
	if len(f.entities) > limit {
		return f.entities[:limit], nil
	}
	return f.entities, nil
}

func (f *fakeEventStore) SearchEntitiesByEmbedding(ctx context.Context, vector []float32, limit int) ([]store.EntityRecord, error) {
	return f.embeddingHits, nil
}

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (f fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Close() error    { return nil }

func catalog() []store.EntityRecord {
	return []store.EntityRecord{
		{ID: "e1", Name: "Acme Corp", CanonicalName: "Acme Corporation", Aliases: []string{"Acme", "ACME Inc"}},
		{ID: "e2", Name: "Acme Labs", CanonicalName: "Acme Labs", Aliases: nil},
		{ID: "e3", Name: "Initech", CanonicalName: "Initech", Aliases: []string{"Initech LLC"}},
	}
}

func newTestResolver(fs *fakeEventStore, emb *fakeEmbedder, ner NERClient) *Resolver {
	opts := Options{FuzzyThreshold: 0.75, EmbeddingThreshold: 0.8, CandidateLimit: 20}
	if emb == nil {
		return New(fs, nil, ner, opts, nil)
	}
	return New(fs, *emb, ner, opts, nil)
}

func TestResolveMentionExact(t *testing.T) {
	r := newTestResolver(&fakeEventStore{entities: catalog()}, nil, nil)

	entities, err := r.ResolveMention(context.Background(), "Acme Corp")
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	assert.Equal(t, "e1", entities[0].ID)
	assert.Equal(t, types.ResolutionExact, entities[0].Method)
	assert.Equal(t, 1.0, entities[0].Score)
}

func TestResolveMentionExactIsCaseInsensitive(t *testing.T) {
	r := newTestResolver(&fakeEventStore{entities: catalog()}, nil, nil)

	entities, err := r.ResolveMention(context.Background(), "acme corporation")
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	assert.Equal(t, types.ResolutionExact, entities[0].Method)
	assert.Equal(t, 1.0, entities[0].Score)
}

func TestResolveMentionAlias(t *testing.T) {
	r := newTestResolver(&fakeEventStore{entities: catalog()}, nil, nil)

	entities, err := r.ResolveMention(context.Background(), "ACME Inc")
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	assert.Equal(t, "e1", entities[0].ID)
	assert.Equal(t, types.ResolutionAlias, entities[0].Method)
	assert.Equal(t, 0.95, entities[0].Score)
}

func TestResolveMentionFuzzy(t *testing.T) {
	r := newTestResolver(&fakeEventStore{entities: catalog()}, nil, nil)

	// One deletion away from "Initech", ratio 6/7.
	entities, err := r.ResolveMention(context.Background(), "Initch")
	require.NoError(t, err)
	if assert.NotEmpty(t, entities) {
		assert.Equal(t, "e3", entities[0].ID)
		assert.Equal(t, types.ResolutionFuzzy, entities[0].Method)
		assert.GreaterOrEqual(t, entities[0].Score, 0.75)
		assert.Less(t, entities[0].Score, 1.0)
	}
}

func TestResolveMentionEmbeddingTier(t *testing.T) {
	fs := &fakeEventStore{
		embeddingHits: []store.EntityRecord{
			{ID: "e1", Name: "Acme Corp", CanonicalName: "Acme Corporation", Score: 0.91},
			{ID: "e3", Name: "Initech", CanonicalName: "Initech", Score: 0.4},
		},
	}
	r := newTestResolver(fs, &fakeEmbedder{}, nil)

	entities, err := r.ResolveMention(context.Background(), "the roadrunner company")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "e1", entities[0].ID)
	assert.Equal(t, types.ResolutionEmbedding, entities[0].Method)
	assert.InDelta(t, 0.91, entities[0].Score, 1e-9)
}

func TestResolveMentionNoMatchIsEmptyNotError(t *testing.T) {
	r := newTestResolver(&fakeEventStore{}, nil, nil)

	entities, err := r.ResolveMention(context.Background(), "Nonexistent Entity")
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestResolveMentionOrdering(t *testing.T) {
	fs := &fakeEventStore{entities: []store.EntityRecord{
		{ID: "b", Name: "Widget", CanonicalName: "Widget"},
		{ID: "a", Name: "Widget", CanonicalName: "Widget"},
	}}
	r := newTestResolver(fs, nil, nil)

	entities, err := r.ResolveMention(context.Background(), "Widget")
	require.NoError(t, err)
	require.Len(t, entities, 2)
	// Equal scores break ties by ID ascending.
	assert.Equal(t, "a", entities[0].ID)
	assert.Equal(t, "b", entities[1].ID)
}

// fakeNER returns scripted spans.
type fakeNER struct {
	spans []gliner.Entity
}

func (f *fakeNER) ExtractEntities(text string, labels []string) ([]gliner.Entity, error) {
	return f.spans, nil
}

func TestResolveQuestionMergesFilterAndSpans(t *testing.T) {
	fs := &fakeEventStore{entities: catalog()}
	ner := &fakeNER{spans: []gliner.Entity{{Text: "Initech", Label: gliner.LabelOrganization, Score: 0.9}}}
	r := newTestResolver(fs, nil, ner)

	q := types.Question{
		Text:         "Why did Initech miss the deadline?",
		EntityFilter: "Acme Corp",
	}
	entities, err := r.ResolveQuestion(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	ids := []string{entities[0].ID, entities[1].ID}
	assert.Contains(t, ids, "e1")
	assert.Contains(t, ids, "e3")

	for _, e := range entities {
		if e.ID == "e1" {
			assert.Equal(t, -1, e.MentionOffset)
		}
		if e.ID == "e3" {
			assert.Equal(t, strings.LastIndex(q.Text, "Initech"), e.MentionOffset)
		}
	}
}

func TestResolveQuestionDeduplicatesById(t *testing.T) {
	fs := &fakeEventStore{entities: catalog()}
	ner := &fakeNER{spans: []gliner.Entity{{Text: "Acme Corp", Label: gliner.LabelOrganization, Score: 0.9}}}
	r := newTestResolver(fs, nil, ner)

	q := types.Question{Text: "What is Acme Corp doing?", EntityFilter: "Acme Corp"}
	entities, err := r.ResolveQuestion(context.Background(), q)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, e := range entities {
		seen[e.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "entity %s appears more than once", id)
	}
}
