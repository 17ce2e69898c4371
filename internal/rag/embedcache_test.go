package rag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	data   map[string][]byte
	setErr error
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	raw, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(raw))
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	cmd.SetVal("OK")
	return cmd
}

type fakeEmbedder struct {
	calls int
	vecs  map[string][]float32
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vecs[t]
		if !ok {
			v = []float32{1, 2, 3}
		}
		out[i] = v
	}
	return out, nil
}

func TestCachedEmbedderMissThenHit(t *testing.T) {
	redisFake := newFakeRedis()
	embedder := &fakeEmbedder{vecs: map[string][]float32{"how do I withdraw": {0.1, 0.2}}}
	cache := NewCachedEmbedder(embedder, redisFake, 15*time.Minute)

	vecs, err := cache.Embed(context.Background(), []string{"how do I withdraw"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 || vecs[0][0] != 0.1 {
		t.Fatalf("unexpected vectors: %+v", vecs)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected 1 underlying embed call, got %d", embedder.calls)
	}

	vecs2, err := cache.Embed(context.Background(), []string{"How Do I Withdraw  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs2[0][0] != 0.1 {
		t.Fatalf("expected cache hit to return the cached vector, got %+v", vecs2)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected normalized query to hit cache, underlying calls = %d", embedder.calls)
	}
}

func TestCachedEmbedderFallsBackOnRedisGetError(t *testing.T) {
	redisFake := newFakeRedis()
	redisFake.getErr = errors.New("connection refused")
	embedder := &fakeEmbedder{vecs: map[string][]float32{"q": {9}}}
	cache := NewCachedEmbedder(embedder, redisFake, time.Minute)

	vecs, err := cache.Embed(context.Background(), []string{"q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs[0][0] != 9 {
		t.Fatalf("expected fallback to live embedder, got %+v", vecs)
	}
}

func TestCachedEmbedderPropagatesEmbedderError(t *testing.T) {
	redisFake := newFakeRedis()
	embedder := &fakeEmbedder{err: errors.New("quota exceeded")}
	cache := NewCachedEmbedder(embedder, redisFake, time.Minute)

	_, err := cache.Embed(context.Background(), []string{"q"})
	if err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}

func TestCachedEmbedderStoresJSONEncodedVector(t *testing.T) {
	redisFake := newFakeRedis()
	embedder := &fakeEmbedder{vecs: map[string][]float32{"q": {1, 2, 3}}}
	cache := NewCachedEmbedder(embedder, redisFake, time.Minute)

	if _, err := cache.Embed(context.Background(), []string{"q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := EmbeddingQueryKey("q")
	raw, ok := redisFake.data[key]
	if !ok {
		t.Fatalf("expected key %q to be populated", key)
	}
	var decoded []float32
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("stored value is not valid JSON: %v", err)
	}
	if len(decoded) != 3 || decoded[0] != 1 {
		t.Fatalf("unexpected decoded vector: %+v", decoded)
	}
}
