package rag

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-support-gateway/internal/retrieval"
)

// Embedder abstracts the raw embedding model call (e.g. a Vertex AI or
// OpenAI embeddings client), before caching.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// redisCommander is the narrow slice of redis.UniversalClient this cache
// needs, kept as its own interface (rather than depending on the concrete
// *redis.Client or the sprawling UniversalClient) so tests can fake it
// without a live server.
type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder wraps an Embedder with a Redis-backed query cache, keyed by
// sha256(normalized query), grounded on the teacher's in-process
// cache.EmbeddingCache (same normalize-lowercase-trim-then-hash key shape)
// promoted to Redis since the orchestrator backing this cache is a shared
// service across every channel plugin, not a single in-process HTTP API.
type CachedEmbedder struct {
	embedder Embedder
	client   redisCommander
	ttl      time.Duration
}

var _ retrieval.QueryEmbedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps embedder with a Redis cache of the given TTL.
// client is typically a *redis.Client; it only needs to satisfy
// redisCommander.
func NewCachedEmbedder(embedder Embedder, client redisCommander, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{embedder: embedder, client: client, ttl: ttl}
}

// EmbeddingQueryKey returns the deterministic Redis key for a query string.
func EmbeddingQueryKey(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("rag:emb:%x", h[:16])
}

// Embed resolves each text's vector from the cache, falling back to the
// wrapped Embedder for misses and populating the cache with the result. A
// Redis failure degrades to calling the underlying embedder directly rather
// than failing the request.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	misses := make([]int, 0, len(texts))

	for i, text := range texts {
		vec, ok := c.get(ctx, text)
		if ok {
			vectors[i] = vec
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) == 0 {
		return vectors, nil
	}

	missTexts := make([]string, len(misses))
	for j, idx := range misses {
		missTexts[j] = texts[idx]
	}

	fresh, err := c.embedder.Embed(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("rag.CachedEmbedder.Embed: %w", err)
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("rag.CachedEmbedder.Embed: embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	for j, idx := range misses {
		vectors[idx] = fresh[j]
		c.set(ctx, texts[idx], fresh[j])
	}
	return vectors, nil
}

func (c *CachedEmbedder) get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, EmbeddingQueryKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("rag: embedding cache get failed, falling back to live embed", "error", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		slog.Warn("rag: embedding cache entry corrupted, ignoring", "error", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) set(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		slog.Warn("rag: failed to marshal embedding for cache", "error", err)
		return
	}
	if err := c.client.Set(ctx, EmbeddingQueryKey(text), raw, c.ttl).Err(); err != nil {
		slog.Warn("rag: embedding cache set failed", "error", err)
	}
}
