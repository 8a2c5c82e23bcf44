package store

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// Neo4jGraphStore implements GraphStore against a Neo4j causal graph with
// (:Event)-[:CAUSES]->(:Event) and (:Event)-[:INVOLVES]->(:Entity).
type Neo4jGraphStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jGraphStore creates a new graph store instance.
func NewNeo4jGraphStore(cfg config.GraphStoreConfig) (*Neo4jGraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	return &Neo4jGraphStore{
		client:   driver,
		database: database,
	}, nil
}

// causalChainQuery returns the traversal Cypher for the given direction.
// The hop bound is inlined because Cypher does not allow parameters in
// variable-length patterns; maxHops is always a validated integer.
func causalChainQuery(direction types.Direction, maxHops int) string {
	var pattern string
	switch direction {
	case types.DirectionUpstream:
		pattern = fmt.Sprintf("(cause:Event)-[rels:CAUSES*1..%d]->(seed:Event {id: $eventID})", maxHops)
	case types.DirectionDownstream:
		pattern = fmt.Sprintf("(seed:Event {id: $eventID})-[rels:CAUSES*1..%d]->(cause:Event)", maxHops)
	default:
		pattern = fmt.Sprintf("(seed:Event {id: $eventID})-[rels:CAUSES*1..%d]-(cause:Event)", maxHops)
	}

	return fmt.Sprintf(`
		MATCH path = %s
		WITH cause, path, [r IN relationships(path) | r.confidence] AS confs
		RETURN DISTINCT cause.id AS event_id,
		       cause.description AS description,
		       cause.ts_start AS ts_start,
		       cause.ts_end AS ts_end,
		       cause.document_id AS document_id,
		       reduce(acc = 1.0, c IN confs | acc * coalesce(c, 1.0)) AS confidence,
		       length(path) AS hop
		ORDER BY hop ASC, event_id ASC`, pattern)
}

// CausalChain traverses CAUSES edges from the given event.
func (s *Neo4jGraphStore) CausalChain(ctx context.Context, eventID string, direction types.Direction, maxHops int) ([]types.EvidenceItem, error) {
	if maxHops < 1 {
		maxHops = 1
	}
	return s.ExecuteCypher(ctx, causalChainQuery(direction, maxHops), map[string]any{
		"eventID": eventID,
	})
}

// EntitySubgraph returns events involving the entity plus their one-hop
// causal neighbors.
func (s *Neo4jGraphStore) EntitySubgraph(ctx context.Context, entityID string, maxEvents int) ([]types.EvidenceItem, error) {
	if maxEvents <= 0 {
		maxEvents = 50
	}
	query := `
		MATCH (ev:Event)-[:INVOLVES]->(:Entity {id: $entityID})
		OPTIONAL MATCH (ev)-[r:CAUSES]-(neighbor:Event)
		WITH collect(DISTINCT ev) + collect(DISTINCT neighbor) AS nodes
		UNWIND nodes AS n
		WITH DISTINCT n WHERE n IS NOT NULL
		RETURN n.id AS event_id,
		       n.description AS description,
		       n.ts_start AS ts_start,
		       n.ts_end AS ts_end,
		       n.document_id AS document_id,
		       coalesce(n.confidence, 1.0) AS confidence,
		       0 AS hop
		ORDER BY ts_start ASC, event_id ASC
		LIMIT $limit`
	return s.ExecuteCypher(ctx, query, map[string]any{
		"entityID": entityID,
		"limit":    maxEvents,
	})
}

// ExecuteCypher runs a read query and scans records into evidence items by
// canonical aliases.
func (s *Neo4jGraphStore) ExecuteCypher(ctx context.Context, query string, params map[string]any) ([]types.EvidenceItem, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("cypher query failed: %w", err)
	}

	records := result.([]*db.Record)
	items := make([]types.EvidenceItem, 0, len(records))
	for _, record := range records {
		items = append(items, evidenceFromRecord(record))
	}
	return items, nil
}

// evidenceFromRecord maps a Neo4j record onto the evidence shape.
func evidenceFromRecord(record *db.Record) types.EvidenceItem {
	var item types.EvidenceItem

	if v, ok := record.Get("event_id"); ok && v != nil {
		item.ID = asString(v)
	}
	if v, ok := record.Get("description"); ok && v != nil {
		item.Description = asString(v)
	}
	if v, ok := record.Get("ts_start"); ok && v != nil {
		if t, ok := neo4jTime(v); ok {
			item.TsStart = &t
		}
	}
	if v, ok := record.Get("ts_end"); ok && v != nil {
		if t, ok := neo4jTime(v); ok {
			item.TsEnd = &t
		}
	}
	if v, ok := record.Get("document_id"); ok && v != nil {
		item.DocumentID = asString(v)
	}
	if v, ok := record.Get("confidence"); ok && v != nil {
		if f, ok := asFloat(v); ok {
			item.Confidence = f
		}
	}
	if v, ok := record.Get("hop"); ok && v != nil {
		if f, ok := asFloat(v); ok {
			item.Hop = int(f)
		}
	}
	return item
}

func neo4jTime(v any) (time.Time, bool) {
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

// Close shuts down the driver.
func (s *Neo4jGraphStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
