package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	badger "github.com/dgraph-io/badger/v4"
)

// CachedClient wraps a Client with a badger-backed vector cache keyed by
// model and text. Question and mention texts repeat heavily across
// requests, so hits skip the provider round trip entirely.
type CachedClient struct {
	inner Client
	db    *badger.DB
	model string
}

// NewCachedClient opens (or creates) a badger cache at path and wraps
// inner with it. The model name is part of the cache key so switching
// models never serves stale vectors.
func NewCachedClient(inner Client, path, model string) (*CachedClient, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return &CachedClient{inner: inner, db: db, model: model}, nil
}

// NewInMemoryCachedClient wraps inner with a non-persistent cache.
// Intended for tests.
func NewInMemoryCachedClient(inner Client, model string) (*CachedClient, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return &CachedClient{inner: inner, db: db, model: model}, nil
}

func (c *CachedClient) cacheKey(text string) []byte {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return sum[:]
}

// Embed returns cached vectors where available and embeds only the
// misses, preserving input order in the result.
func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	err := c.db.View(func(txn *badger.Txn) error {
		for i, text := range texts {
			item, err := txn.Get(c.cacheKey(text))
			if err == badger.ErrKeyNotFound {
				missTexts = append(missTexts, text)
				missIdx = append(missIdx, i)
				continue
			}
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			results[i] = decodeVector(raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache read failed: %w", err)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(fresh))
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for j, vec := range fresh {
			results[missIdx[j]] = vec
			if err := txn.Set(c.cacheKey(missTexts[j]), encodeVector(vec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache write failed: %w", err)
	}

	return results, nil
}

// EmbedSingle generates (or retrieves) an embedding for a single text.
func (c *CachedClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// Dimensions returns the number of dimensions in the embeddings.
func (c *CachedClient) Dimensions() int {
	return c.inner.Dimensions()
}

// Close closes the cache and the wrapped client.
func (c *CachedClient) Close() error {
	dbErr := c.db.Close()
	innerErr := c.inner.Close()
	if dbErr != nil {
		return dbErr
	}
	return innerErr
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}
