// Package types defines the request-scoped data model shared by every
// component of the query engine: questions, intents, time ranges, resolved
// entities, query plans, generated queries, evidence, and synthesized
// answers. All values are created per request and discarded once the
// response is returned; nothing in this package is persisted.
package types
