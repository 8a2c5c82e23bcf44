// Package embedder provides text embedding clients for vector
// representations of questions and event descriptions.
//
// The Client interface is implemented for OpenAI embedding models and for
// local models via go-embedeverything. A badger-backed cache wrapper
// avoids re-embedding identical text across requests.
package embedder
