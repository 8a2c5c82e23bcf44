// Package nlp provides language model clients used by the query pipeline
// for intent classification, query generation, and answer synthesis.
//
// The package exposes a single Client interface with provider
// implementations for OpenAI (and OpenAI-compatible services), Google
// Gemini, and local rust-bert text generation. Clients are composed with
// retry and circuit-breaker wrappers so transient provider failures do not
// surface as request failures.
package nlp
