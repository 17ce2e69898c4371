package retrieval

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-support-gateway/migrations"
)

func setupDenseStore(t *testing.T) (*PostgresDenseStore, func()) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrations.Run(ctx, dbURL); err != nil {
		t.Fatalf("migrations.Run: %v", err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}

	return NewPostgresDenseStore(pool), func() { pool.Close() }
}

func vecAt(axis int) []float32 {
	v := make([]float32, 1536)
	v[axis] = 1.0
	return v
}

func TestPostgresDenseStore_ReplaceAndSearch(t *testing.T) {
	store, cleanup := setupDenseStore(t)
	defer cleanup()
	ctx := context.Background()

	docID := uuid.New().String()
	chunks := []Chunk{
		{ID: uuid.New().String(), DocumentID: docID, Title: "Escrow", Section: "intro", Category: "faq", Protocol: "bisq2", Content: "about escrow"},
		{ID: uuid.New().String(), DocumentID: docID, Title: "Disputes", Section: "intro", Category: "faq", Protocol: "bisq2", Content: "about disputes"},
	}
	vectors := [][]float32{vecAt(100), vecAt(200)}

	if err := store.Replace(ctx, chunks, vectors); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := store.SearchDense(ctx, vecAt(100), 5, nil)
	if err != nil {
		t.Fatalf("SearchDense: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least 1 result")
	}
	if results[0].Reference.Title != "Escrow" {
		t.Errorf("top result title = %q, want %q", results[0].Reference.Title, "Escrow")
	}
	if results[0].Score < 0.99 {
		t.Errorf("top result score = %f, want > 0.99", results[0].Score)
	}
}

func TestPostgresDenseStore_SearchDense_FiltersByProtocol(t *testing.T) {
	store, cleanup := setupDenseStore(t)
	defer cleanup()
	ctx := context.Background()

	docID := uuid.New().String()
	chunks := []Chunk{
		{ID: uuid.New().String(), DocumentID: docID, Title: "Bisq2 doc", Protocol: "bisq2", Content: "bisq2 content"},
		{ID: uuid.New().String(), DocumentID: docID, Title: "Haveno doc", Protocol: "haveno", Content: "haveno content"},
	}
	vectors := [][]float32{vecAt(400), vecAt(400)}

	if err := store.Replace(ctx, chunks, vectors); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := store.SearchDense(ctx, vecAt(400), 5, map[string]string{"protocol": "haveno"})
	if err != nil {
		t.Fatalf("SearchDense: %v", err)
	}
	for _, r := range results {
		if r.Reference.Protocol != "haveno" {
			t.Errorf("result protocol = %q, want only %q", r.Reference.Protocol, "haveno")
		}
	}
}

func TestPostgresDenseStore_Replace_MismatchedLengths(t *testing.T) {
	store, cleanup := setupDenseStore(t)
	defer cleanup()

	err := store.Replace(context.Background(), []Chunk{{ID: "a"}}, [][]float32{{1.0}, {2.0}})
	if err == nil {
		t.Fatal("expected error for mismatched chunk/vector counts")
	}
}

type fakeQueryEmbedder struct {
	vec []float32
	err error
}

func (f fakeQueryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestDenseOnlyRetriever_HealthCheck(t *testing.T) {
	healthy := NewDenseOnlyRetriever(fakeQueryEmbedder{vec: []float32{1, 0}}, nil)
	if !healthy.HealthCheck(context.Background()) {
		t.Error("expected healthy embedder to report healthy")
	}

	unhealthy := NewDenseOnlyRetriever(fakeQueryEmbedder{err: context.DeadlineExceeded}, nil)
	if unhealthy.HealthCheck(context.Background()) {
		t.Error("expected failing embedder to report unhealthy")
	}
}

func TestDenseOnlyRetriever_Retrieve_EmptyQuery(t *testing.T) {
	r := NewDenseOnlyRetriever(fakeQueryEmbedder{vec: []float32{1, 0}}, nil)
	if _, err := r.Retrieve(context.Background(), "", 5, nil); err == nil {
		t.Error("expected error for empty query")
	}
}
