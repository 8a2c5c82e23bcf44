package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// PostgresEventStore implements EventStore against a Postgres database
// with the pgvector extension.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore opens a connection pool to the event store.
func NewPostgresEventStore(cfg config.EventStoreConfig) (*PostgresEventStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return &PostgresEventStore{db: db}, nil
}

// NewPostgresEventStoreFromDB wraps an existing connection, used by tests.
func NewPostgresEventStoreFromDB(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// GetEvent fetches a single event by ID.
func (s *PostgresEventStore) GetEvent(ctx context.Context, id string) (*types.EvidenceItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, ts_start, ts_end, document_id, confidence
		FROM events
		WHERE id = $1`, id)

	var item types.EvidenceItem
	var tsStart, tsEnd sql.NullTime
	var docID sql.NullString
	if err := row.Scan(&item.ID, &item.Description, &tsStart, &tsEnd, &docID, &item.Confidence); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("event %s not found", id)
		}
		return nil, fmt.Errorf("failed to fetch event: %w", err)
	}
	applyNullTimes(&item, tsStart, tsEnd)
	if docID.Valid {
		item.DocumentID = docID.String
	}
	return &item, nil
}

// buildListEventsQuery assembles the chronological scan for ListEvents.
// Split out so the SQL shape can be tested without a database.
func buildListEventsQuery(params ListEventsParams) (string, []any) {
	var sb strings.Builder
	var args []any

	if params.EntityID != "" {
		sb.WriteString(`SELECT e.id, e.description, e.ts_start, e.ts_end, e.document_id, e.confidence
		FROM events e
		JOIN event_entities ee ON ee.event_id = e.id
		WHERE ee.entity_id = `)
		args = append(args, params.EntityID)
		sb.WriteString(fmt.Sprintf("$%d", len(args)))
	} else {
		sb.WriteString(`SELECT e.id, e.description, e.ts_start, e.ts_end, e.document_id, e.confidence
		FROM events e
		WHERE TRUE`)
	}

	if params.From != nil {
		args = append(args, *params.From)
		sb.WriteString(fmt.Sprintf(" AND e.ts_start >= $%d", len(args)))
	}
	if params.To != nil {
		args = append(args, *params.To)
		sb.WriteString(fmt.Sprintf(" AND e.ts_start <= $%d", len(args)))
	}

	sb.WriteString(" ORDER BY e.ts_start ASC, e.id ASC")

	if params.Limit > 0 {
		args = append(args, params.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	return sb.String(), args
}

// ListEvents returns events in chronological order.
func (s *PostgresEventStore) ListEvents(ctx context.Context, params ListEventsParams) ([]types.EvidenceItem, error) {
	query, args := buildListEventsQuery(params)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var items []types.EvidenceItem
	for rows.Next() {
		var item types.EvidenceItem
		var tsStart, tsEnd sql.NullTime
		var docID sql.NullString
		if err := rows.Scan(&item.ID, &item.Description, &tsStart, &tsEnd, &docID, &item.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		applyNullTimes(&item, tsStart, tsEnd)
		if docID.Valid {
			item.DocumentID = docID.String
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SimilaritySearch returns events nearest to vector by cosine similarity.
func (s *PostgresEventStore) SimilaritySearch(ctx context.Context, vector []float32, limit int, minScore float64, entityID string) ([]ScoredEvent, error) {
	embedding := pgvector.NewVector(vector)

	var rows *sql.Rows
	var err error
	if entityID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT e.id, e.description, e.ts_start, e.ts_end, e.document_id, e.confidence,
			       1 - (e.embedding <=> $1) AS score
			FROM events e
			JOIN event_entities ee ON ee.event_id = e.id
			WHERE ee.entity_id = $2 AND e.embedding IS NOT NULL
			  AND 1 - (e.embedding <=> $1) >= $3
			ORDER BY e.embedding <=> $1
			LIMIT $4`, embedding, entityID, minScore, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT e.id, e.description, e.ts_start, e.ts_end, e.document_id, e.confidence,
			       1 - (e.embedding <=> $1) AS score
			FROM events e
			WHERE e.embedding IS NOT NULL
			  AND 1 - (e.embedding <=> $1) >= $2
			ORDER BY e.embedding <=> $1
			LIMIT $3`, embedding, minScore, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []ScoredEvent
	for rows.Next() {
		var se ScoredEvent
		var tsStart, tsEnd sql.NullTime
		var docID sql.NullString
		if err := rows.Scan(&se.Event.ID, &se.Event.Description, &tsStart, &tsEnd, &docID, &se.Event.Confidence, &se.Score); err != nil {
			return nil, fmt.Errorf("failed to scan similarity result: %w", err)
		}
		applyNullTimes(&se.Event, tsStart, tsEnd)
		if docID.Valid {
			se.Event.DocumentID = docID.String
		}
		se.Event.Score = se.Score
		results = append(results, se)
	}
	return results, rows.Err()
}

// CandidateEntities returns entities matching the mention by substring.
func (s *PostgresEventStore) CandidateEntities(ctx context.Context, mention string, limit int) ([]EntityRecord, error) {
	pattern := "%" + mention + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, canonical_name, entity_type, aliases
		FROM entities
		WHERE name ILIKE $1
		   OR canonical_name ILIKE $1
		   OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE a ILIKE $1)
		ORDER BY canonical_name ASC
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("candidate entity lookup failed: %w", err)
	}
	defer rows.Close()

	return scanEntityRows(rows, false)
}

// SearchEntitiesByEmbedding returns entities nearest to vector by cosine
// similarity of their name embeddings.
func (s *PostgresEventStore) SearchEntitiesByEmbedding(ctx context.Context, vector []float32, limit int) ([]EntityRecord, error) {
	embedding := pgvector.NewVector(vector)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, canonical_name, entity_type, aliases,
		       1 - (name_embedding <=> $1) AS score
		FROM entities
		WHERE name_embedding IS NOT NULL
		ORDER BY name_embedding <=> $1
		LIMIT $2`, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("entity embedding search failed: %w", err)
	}
	defer rows.Close()

	return scanEntityRows(rows, true)
}

func scanEntityRows(rows *sql.Rows, withScore bool) ([]EntityRecord, error) {
	var records []EntityRecord
	for rows.Next() {
		var rec EntityRecord
		var entityType sql.NullString
		var aliases pq.StringArray
		var err error
		if withScore {
			err = rows.Scan(&rec.ID, &rec.Name, &rec.CanonicalName, &entityType, &aliases, &rec.Score)
		} else {
			err = rows.Scan(&rec.ID, &rec.Name, &rec.CanonicalName, &entityType, &aliases)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if entityType.Valid {
			rec.EntityType = entityType.String
		}
		rec.Aliases = aliases
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FetchDocuments resolves document IDs to source references.
func (s *PostgresEventStore) FetchDocuments(ctx context.Context, ids []string) ([]types.SourceReference, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, metadata
		FROM documents
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer rows.Close()

	var refs []types.SourceReference
	for rows.Next() {
		var ref types.SourceReference
		var metadata []byte
		if err := rows.Scan(&ref.ID, &ref.Source, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ref.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode document metadata: %w", err)
			}
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ExecuteQuery runs validated generated SQL and scans rows into evidence
// items by canonical column aliases. Unknown columns are ignored so the
// model may select extra fields without breaking the scan.
func (s *PostgresEventStore) ExecuteQuery(ctx context.Context, query string, args []any) ([]types.EvidenceItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("generated query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var items []types.EvidenceItem
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		items = append(items, evidenceFromColumns(cols, values))
	}
	return items, rows.Err()
}

// evidenceFromColumns maps generically scanned values onto the evidence
// shape using the canonical alias names.
func evidenceFromColumns(cols []string, values []any) types.EvidenceItem {
	var item types.EvidenceItem
	for i, col := range cols {
		v := values[i]
		if v == nil {
			continue
		}
		switch strings.ToLower(col) {
		case "event_id", "id":
			item.ID = asString(v)
		case "description":
			item.Description = asString(v)
		case "ts_start":
			if t, ok := asTime(v); ok {
				item.TsStart = &t
			}
		case "ts_end":
			if t, ok := asTime(v); ok {
				item.TsEnd = &t
			}
		case "document_id":
			item.DocumentID = asString(v)
		case "confidence":
			if f, ok := asFloat(v); ok {
				item.Confidence = f
			}
		case "hop":
			if f, ok := asFloat(v); ok {
				item.Hop = int(f)
			}
		case "score":
			if f, ok := asFloat(v); ok {
				item.Score = f
			}
		}
	}
	return item
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int64:
		return float64(f), true
	case int:
		return float64(f), true
	case []byte:
		var out float64
		if _, err := fmt.Sscanf(string(f), "%g", &out); err != nil {
			return 0, false
		}
		return out, true
	default:
		return 0, false
	}
}

func applyNullTimes(item *types.EvidenceItem, tsStart, tsEnd sql.NullTime) {
	if tsStart.Valid {
		t := tsStart.Time.UTC()
		item.TsStart = &t
	}
	if tsEnd.Valid {
		t := tsEnd.Time.UTC()
		item.TsEnd = &t
	}
}

// Close releases the connection pool.
func (s *PostgresEventStore) Close() error {
	return s.db.Close()
}
