// Package store provides the read-only data access layer for the query
// engine: a Postgres event store with pgvector similarity search and a
// Neo4j causal graph store.
//
// Both stores expose narrow interfaces so planners and executors can be
// tested against fakes. Generated SQL and Cypher run through ExecuteQuery
// and ExecuteCypher, which scan results into the shared evidence shape by
// canonical column aliases (event_id, description, ts_start, ts_end,
// confidence, hop).
package store
