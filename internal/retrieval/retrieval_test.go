package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
	"github.com/connexus-ai/ragbox-support-gateway/internal/tokenizer"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeTokenizer struct {
	vec tokenizer.SparseVector
	err error
}

func (f *fakeTokenizer) TokenizeQuery(text string) (tokenizer.SparseVector, error) {
	return f.vec, f.err
}

type fakeDense struct {
	results []RetrievedDoc
	err     error
}

func (f *fakeDense) SearchDense(ctx context.Context, vector []float32, k int, filter map[string]string) ([]RetrievedDoc, error) {
	return f.results, f.err
}

type fakeSparse struct {
	results []RetrievedDoc
	err     error
}

func (f *fakeSparse) SearchSparse(ctx context.Context, vector tokenizer.SparseVector, k int, filter map[string]string) ([]RetrievedDoc, error) {
	return f.results, f.err
}

func doc(id string, score float64) RetrievedDoc {
	return RetrievedDoc{Reference: model.DocumentReference{DocumentID: id}, Content: "content-" + id, Score: score}
}

func TestMinMaxNormalizeEmpty(t *testing.T) {
	if got := minMaxNormalize(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestMinMaxNormalizeSingle(t *testing.T) {
	got := minMaxNormalize([]float64{0.42})
	if len(got) != 1 || got[0] != 1.0 {
		t.Errorf("expected [1.0], got %v", got)
	}
}

func TestMinMaxNormalizeConstant(t *testing.T) {
	got := minMaxNormalize([]float64{0.5, 0.5, 0.5})
	for _, v := range got {
		if v != 0.5 {
			t.Errorf("expected all 0.5 for a constant input, got %v", got)
		}
	}
}

func TestMinMaxNormalizeRange(t *testing.T) {
	got := minMaxNormalize([]float64{0.0, 0.5, 1.0})
	want := []float64{0.0, 0.5, 1.0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFuseWeightsDenseAndSparseCombined(t *testing.T) {
	dense := []RetrievedDoc{doc("a", 0.9), doc("b", 0.1)}
	sparse := []RetrievedDoc{doc("b", 5.0), doc("a", 1.0)}

	fused := fuse(dense, sparse, 0.7, 0.3)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}
	// a: dense norm 1.0*0.7=0.7, sparse norm 0.0*0.3=0 -> 0.7
	// b: dense norm 0.0*0.7=0, sparse norm 1.0*0.3=0.3 -> 0.3
	if fused[0].Reference.DocumentID != "a" {
		t.Errorf("expected 'a' to rank first, got %q", fused[0].Reference.DocumentID)
	}
}

func TestFuseDocOnlyInOneListStillIncluded(t *testing.T) {
	dense := []RetrievedDoc{doc("only-dense", 0.8)}
	sparse := []RetrievedDoc{}

	fused := fuse(dense, sparse, 0.7, 0.3)
	if len(fused) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fused))
	}
	if fused[0].Score != 0.7 {
		t.Errorf("Score = %v, want 0.7 (dense-only contribution)", fused[0].Score)
	}
}

func TestHybridRetrieverFansOutAndFuses(t *testing.T) {
	h := NewHybridRetriever(
		&fakeEmbedder{vec: []float32{1, 2, 3}},
		&fakeTokenizer{vec: tokenizer.SparseVector{Indices: []int{1}, Values: []float64{1.0}}},
		&fakeDense{results: []RetrievedDoc{doc("a", 1.0), doc("b", 0.5)}},
		&fakeSparse{results: []RetrievedDoc{doc("a", 2.0)}},
	)

	docs, err := h.RetrieveWithScores(context.Background(), "how do I dispute a trade", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 fused docs, got %d", len(docs))
	}
	if docs[0].Reference.DocumentID != "a" {
		t.Errorf("expected 'a' (present in both lists) to rank first, got %q", docs[0].Reference.DocumentID)
	}
}

func TestHybridRetrieverRetrieveZeroesScores(t *testing.T) {
	h := NewHybridRetriever(
		&fakeEmbedder{vec: []float32{1}},
		&fakeTokenizer{},
		&fakeDense{results: []RetrievedDoc{doc("a", 1.0)}},
		&fakeSparse{},
	)

	docs, err := h.Retrieve(context.Background(), "question", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].Score != 0 {
		t.Errorf("expected score zeroed for Retrieve, got %+v", docs)
	}
}

func TestHybridRetrieverRejectsEmptyQuery(t *testing.T) {
	h := NewHybridRetriever(&fakeEmbedder{}, &fakeTokenizer{}, &fakeDense{}, &fakeSparse{})
	if _, err := h.Retrieve(context.Background(), "", 10, nil); err == nil {
		t.Fatal("expected an error for an empty query")
	}
}

func TestHybridRetrieverPropagatesSearchFailure(t *testing.T) {
	h := NewHybridRetriever(
		&fakeEmbedder{vec: []float32{1}},
		&fakeTokenizer{},
		&fakeDense{err: errors.New("qdrant unreachable")},
		&fakeSparse{},
	)

	if _, err := h.Retrieve(context.Background(), "question", 10, nil); err == nil {
		t.Fatal("expected the dense search failure to propagate")
	}
}

func TestHybridRetrieverTruncatesToK(t *testing.T) {
	h := NewHybridRetriever(
		&fakeEmbedder{vec: []float32{1}},
		&fakeTokenizer{},
		&fakeDense{results: []RetrievedDoc{doc("a", 1.0), doc("b", 0.9), doc("c", 0.1)}},
		&fakeSparse{},
	)

	docs, err := h.RetrieveWithScores(context.Background(), "question", 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected results truncated to k=2, got %d", len(docs))
	}
}
