// Package retrieval implements the hybrid dense+sparse retriever and its
// resilient primary/fallback wrapper.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
	"github.com/connexus-ai/ragbox-support-gateway/internal/tokenizer"
)

// RetrievedDoc is one search result, with its fused relevance score.
type RetrievedDoc struct {
	Reference model.DocumentReference
	Content   string
	Score     float64
}

// Retriever is the contract both HybridRetriever and ResilientRetriever
// satisfy, letting a ResilientRetriever wrap another ResilientRetriever or a
// plain HybridRetriever interchangeably.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error)
	RetrieveWithScores(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error)
	HealthCheck(ctx context.Context) bool
}

// QueryEmbedder abstracts query embedding for testability.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryTokenizer abstracts the frozen BM25 vocabulary's query-side vectorizer.
type QueryTokenizer interface {
	TokenizeQuery(text string) (tokenizer.SparseVector, error)
}

// DenseSearcher abstracts nearest-neighbour search on the dense vector family.
type DenseSearcher interface {
	SearchDense(ctx context.Context, vector []float32, k int, filter map[string]string) ([]RetrievedDoc, error)
}

// SparseSearcher abstracts nearest-neighbour search on the sparse (BM25)
// vector family.
type SparseSearcher interface {
	SearchSparse(ctx context.Context, vector tokenizer.SparseVector, k int, filter map[string]string) ([]RetrievedDoc, error)
}

const (
	defaultDenseWeight  = 0.7
	defaultSparseWeight = 0.3
	defaultTopK         = 20
)

// HybridRetriever fans out dense and sparse search concurrently and fuses
// the two ranked lists by min-max-normalized weighted sum.
type HybridRetriever struct {
	embedder QueryEmbedder
	tok      QueryTokenizer
	dense    DenseSearcher
	sparse   SparseSearcher

	topK                      int
	denseWeight, sparseWeight float64
}

var _ Retriever = (*HybridRetriever)(nil)

// Option configures a HybridRetriever.
type Option func(*HybridRetriever)

// WithWeights overrides the dense/sparse fusion weights (default 0.7/0.3).
func WithWeights(dense, sparse float64) Option {
	return func(h *HybridRetriever) {
		h.denseWeight, h.sparseWeight = dense, sparse
	}
}

// WithTopK overrides the per-family candidate fetch size (default 20).
func WithTopK(k int) Option {
	return func(h *HybridRetriever) {
		if k > 0 {
			h.topK = k
		}
	}
}

// NewHybridRetriever constructs a HybridRetriever.
func NewHybridRetriever(embedder QueryEmbedder, tok QueryTokenizer, dense DenseSearcher, sparse SparseSearcher, opts ...Option) *HybridRetriever {
	h := &HybridRetriever{
		embedder:     embedder,
		tok:          tok,
		dense:        dense,
		sparse:       sparse,
		topK:         defaultTopK,
		denseWeight:  defaultDenseWeight,
		sparseWeight: defaultSparseWeight,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HybridRetriever) search(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	if query == "" {
		return nil, fmt.Errorf("retrieval.HybridRetriever: query is empty")
	}

	vecs, err := h.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval.HybridRetriever: embed query: %w", err)
	}
	sparseQuery, err := h.tok.TokenizeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("retrieval.HybridRetriever: tokenize query: %w", err)
	}

	var denseResults, sparseResults []RetrievedDoc
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseResults, err = h.dense.SearchDense(gCtx, vecs[0], h.topK, filter)
		return err
	})
	g.Go(func() error {
		var err error
		sparseResults, err = h.sparse.SearchSparse(gCtx, sparseQuery, h.topK, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("retrieval.HybridRetriever: search: %w", err)
	}

	fused := fuse(denseResults, sparseResults, h.denseWeight, h.sparseWeight)
	if k > 0 && k < len(fused) {
		fused = fused[:k]
	}
	return fused, nil
}

// RetrieveWithScores returns the fused top-k results with their scores.
func (h *HybridRetriever) RetrieveWithScores(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	return h.search(ctx, query, k, filter)
}

// Retrieve returns the fused top-k results; scores are zeroed, matching the
// contract's unscored retrieve() entry point.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	docs, err := h.search(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedDoc, len(docs))
	for i, d := range docs {
		d.Score = 0
		out[i] = d
	}
	return out, nil
}

// HealthCheck probes the query-embedding path. It never returns an error;
// any underlying failure simply reports unhealthy.
func (h *HybridRetriever) HealthCheck(ctx context.Context) bool {
	_, err := h.embedder.Embed(ctx, []string{"health check"})
	return err == nil
}

func fusionKey(ref model.DocumentReference) string {
	return ref.DocumentID + "::" + ref.Section
}

// fuse combines two ranked lists by min-max normalizing each list's raw
// scores independently, then summing the weighted normalized scores. A
// document present in only one list contributes 0 from the other.
func fuse(dense, sparse []RetrievedDoc, wDense, wSparse float64) []RetrievedDoc {
	denseNorm := minMaxNormalize(scoresOf(dense))
	sparseNorm := minMaxNormalize(scoresOf(sparse))

	combined := make(map[string]*RetrievedDoc, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))

	for i, d := range dense {
		key := fusionKey(d.Reference)
		rd := d
		rd.Score = wDense * denseNorm[i]
		combined[key] = &rd
		order = append(order, key)
	}
	for i, d := range sparse {
		key := fusionKey(d.Reference)
		if existing, ok := combined[key]; ok {
			existing.Score += wSparse * sparseNorm[i]
			continue
		}
		rd := d
		rd.Score = wSparse * sparseNorm[i]
		combined[key] = &rd
		order = append(order, key)
	}

	result := make([]RetrievedDoc, 0, len(order))
	for _, key := range order {
		result = append(result, *combined[key])
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return result
}

func scoresOf(docs []RetrievedDoc) []float64 {
	scores := make([]float64, len(docs))
	for i, d := range docs {
		scores[i] = d.Score
	}
	return scores
}

// minMaxNormalize scales scores to [0, 1]. An empty input stays empty, a
// single-element input normalizes to 1.0, and a constant input normalizes
// every element to 0.5 -- never NaN or Inf.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return []float64{}
	}
	if len(scores) == 1 {
		return []float64{1.0}
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
