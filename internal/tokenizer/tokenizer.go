// Package tokenizer implements the BM25 sparse vector tokenizer: a
// vocabulary is built once over the full corpus, frozen, and then reused
// identically at query time so dense and sparse vectors stay comparable
// across index rebuilds (invariant: query-time vectors use the same
// vocabulary the index was built with).
package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Defaults for the Okapi BM25 ranking function. Fixed per index build, not
// configurable per query.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75

	// MinMaxInputSize is the floor MAX_INPUT_SIZE may be configured to.
	MinMaxInputSize = 100 * 1024
	// DefaultMaxVocabularySize bounds vocabulary growth.
	DefaultMaxVocabularySize = 500_000
)

// ErrInputTooLarge is returned when a document or query exceeds MaxInputSize.
var ErrInputTooLarge = errors.New("tokenizer: input exceeds MaxInputSize")

// SparseVector is a (index, value) pair list in vocabulary space.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Statistics reports the tokenizer's current corpus-level state.
type Statistics struct {
	VocabularySize       int
	NumDocuments         int
	AvgDocLength         float64
	TotalTokensProcessed int64
	VocabularyAtLimit    bool
}

// Tokenizer builds and serves a BM25 vocabulary. All mutating operations
// (ingest, load) are serialized by a single lock.
type Tokenizer struct {
	mu sync.Mutex

	k1, b float64

	maxInputSize      int
	maxVocabularySize int

	vocab map[string]int // term -> stable index, assigned in insertion order as len(terms)
	terms []string       // index -> term, parallel to vocab
	df    []int          // document frequency per index

	numDocs              int
	totalDocLength       int64
	totalTokensProcessed int64
	vocabularyAtLimit    bool
}

// Option configures a new Tokenizer.
type Option func(*Tokenizer)

// WithMaxInputSize overrides MAX_INPUT_SIZE, floored to MinMaxInputSize.
func WithMaxInputSize(bytes int) Option {
	return func(t *Tokenizer) {
		if bytes < MinMaxInputSize {
			bytes = MinMaxInputSize
		}
		t.maxInputSize = bytes
	}
}

// WithMaxVocabularySize overrides MAX_VOCABULARY_SIZE.
func WithMaxVocabularySize(n int) Option {
	return func(t *Tokenizer) {
		if n > 0 {
			t.maxVocabularySize = n
		}
	}
}

// New constructs an empty Tokenizer with fixed BM25 parameters k1=1.5, b=0.75.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		k1:                DefaultK1,
		b:                 DefaultB,
		maxInputSize:      MinMaxInputSize,
		maxVocabularySize: DefaultMaxVocabularySize,
		vocab:             make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
}

// TokenizeDocument ingests one document: tokenizes it, updates
// document-frequency and corpus-length statistics exactly once, and returns
// a BM25 sparse vector computed from the resulting statistics.
func (t *Tokenizer) TokenizeDocument(text string) (SparseVector, error) {
	if len(text) > t.maxInputSizeSnapshot() {
		return SparseVector{}, fmt.Errorf("tokenizer.TokenizeDocument: %w", ErrInputTooLarge)
	}

	tokens := tokenize(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	docLen := len(tokens)
	t.numDocs++
	t.totalDocLength += int64(docLen)
	t.totalTokensProcessed += int64(docLen)

	indices := make([]int, 0, len(tf))
	for term := range tf {
		idx, ok := t.vocab[term]
		if !ok {
			if len(t.terms) >= t.maxVocabularySize {
				t.vocabularyAtLimit = true
				continue
			}
			idx = len(t.terms)
			t.vocab[term] = idx
			t.terms = append(t.terms, term)
			t.df = append(t.df, 0)
		}
		t.df[idx]++
		indices = append(indices, idx)
	}

	avgDocLen := t.avgDocLengthLocked()
	values := make([]float64, len(indices))
	for i, idx := range indices {
		term := t.terms[idx]
		values[i] = t.bm25Locked(tf[term], idx, docLen, avgDocLen)
	}

	return SparseVector{Indices: indices, Values: values}, nil
}

// TokenizeQuery produces a sparse vector for a query string using the
// frozen vocabulary: unknown tokens are dropped, no statistics are mutated.
func (t *Tokenizer) TokenizeQuery(text string) (SparseVector, error) {
	if len(text) > t.maxInputSizeSnapshot() {
		return SparseVector{}, fmt.Errorf("tokenizer.TokenizeQuery: %w", ErrInputTooLarge)
	}

	tokens := tokenize(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[int]bool)
	var indices []int
	var values []float64
	for _, tok := range tokens {
		idx, ok := t.vocab[tok]
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
		values = append(values, t.idfLocked(idx))
	}
	return SparseVector{Indices: indices, Values: values}, nil
}

// TokenizeDocumentStatic scores a document against the frozen vocabulary
// without mutating any statistics: term frequency is computed from the given
// text, but df/avg-doc-length/idf come from the vocabulary as it stood at the
// last TokenizeDocument/LoadVocabulary call. Used to re-vectorize a corpus
// after its vocabulary has already been built over the whole set, so every
// document's sparse vector reflects the same frozen stats the index was
// built with (unknown tokens dropped, same as TokenizeQuery).
func (t *Tokenizer) TokenizeDocumentStatic(text string) (SparseVector, error) {
	if len(text) > t.maxInputSizeSnapshot() {
		return SparseVector{}, fmt.Errorf("tokenizer.TokenizeDocumentStatic: %w", ErrInputTooLarge)
	}

	tokens := tokenize(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	docLen := len(tokens)
	avgDocLen := t.avgDocLengthLocked()

	indices := make([]int, 0, len(tf))
	values := make([]float64, 0, len(tf))
	for term, count := range tf {
		idx, ok := t.vocab[term]
		if !ok {
			continue
		}
		indices = append(indices, idx)
		values = append(values, t.bm25Locked(count, idx, docLen, avgDocLen))
	}
	return SparseVector{Indices: indices, Values: values}, nil
}

func (t *Tokenizer) maxInputSizeSnapshot() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInputSize
}

func (t *Tokenizer) avgDocLengthLocked() float64 {
	if t.numDocs == 0 {
		return 0
	}
	return float64(t.totalDocLength) / float64(t.numDocs)
}

// idfLocked computes the Robertson/Sparck-Jones IDF variant, floored at zero
// via the +1 inside the log so common terms never receive negative weight.
func (t *Tokenizer) idfLocked(idx int) float64 {
	n := float64(t.numDocs)
	df := float64(t.df[idx])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

func (t *Tokenizer) bm25Locked(tf, idx, docLen int, avgDocLen float64) float64 {
	idf := t.idfLocked(idx)
	tfF := float64(tf)
	denom := tfF + t.k1*(1-t.b+t.b*float64(docLen)/maxFloat(avgDocLen, 1))
	if denom == 0 {
		return 0
	}
	return idf * (tfF * (t.k1 + 1)) / denom
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// GetStatistics reports the tokenizer's current state.
func (t *Tokenizer) GetStatistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Statistics{
		VocabularySize:       len(t.terms),
		NumDocuments:         t.numDocs,
		AvgDocLength:         t.avgDocLengthLocked(),
		TotalTokensProcessed: t.totalTokensProcessed,
		VocabularyAtLimit:    t.vocabularyAtLimit,
	}
}

// snapshot is the exportable/importable vocabulary state.
type snapshot struct {
	Terms          []string `json:"terms"`
	DF             []int    `json:"df"`
	NumDocs        int      `json:"num_docs"`
	TotalDocLength int64    `json:"total_doc_length"`
	TotalTokens    int64    `json:"total_tokens_processed"`
	K1             float64  `json:"k1"`
	B              float64  `json:"b"`
}

// ExportVocabulary serializes the full tokenizer state.
func (t *Tokenizer) ExportVocabulary() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := snapshot{
		Terms:          append([]string(nil), t.terms...),
		DF:             append([]int(nil), t.df...),
		NumDocs:        t.numDocs,
		TotalDocLength: t.totalDocLength,
		TotalTokens:    t.totalTokensProcessed,
		K1:             t.k1,
		B:              t.b,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("tokenizer.ExportVocabulary: %w", err)
	}
	return data, nil
}

// LoadVocabulary replaces the tokenizer's state from a previously exported
// blob. It holds the same update lock as document ingestion, so it cannot
// race with a concurrent TokenizeDocument call.
func (t *Tokenizer) LoadVocabulary(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("tokenizer.LoadVocabulary: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.terms = snap.Terms
	t.df = snap.DF
	t.vocab = make(map[string]int, len(snap.Terms))
	for i, term := range snap.Terms {
		t.vocab[term] = i
	}
	t.numDocs = snap.NumDocs
	t.totalDocLength = snap.TotalDocLength
	t.totalTokensProcessed = snap.TotalTokens
	if snap.K1 != 0 {
		t.k1 = snap.K1
	}
	if snap.B != 0 {
		t.b = snap.B
	}
	t.vocabularyAtLimit = len(t.terms) >= t.maxVocabularySize
	return nil
}

// VocabularySize returns the current frozen/live vocabulary size.
func (t *Tokenizer) VocabularySize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.terms)
}
