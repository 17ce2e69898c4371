// Package index owns the retrieval collection's lifecycle: change detection
// against its tracked sources, and the atomic rebuild that recreates the
// dense+sparse collection and repopulates it from a frozen BM25 vocabulary.
package index

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/connexus-ai/ragbox-support-gateway/internal/tokenizer"
)

// Document is one indexable unit: a wiki section, a verified FAQ, or an
// entry from an extra configured corpus.
type Document struct {
	Type     string // "wiki", "faq", ...
	ID       string // stable external id, when the source has one
	Title    string
	Section  string
	Protocol string
	Content  string
}

// docKey mirrors qdrant_index_manager.py's _build_doc_key: identical content
// under the same logical identity yields the same key across rebuilds.
func (d Document) docKey() string {
	var base string
	if d.ID != "" {
		base = fmt.Sprintf("%s:%s", d.Type, d.ID)
	} else {
		protocol := d.Protocol
		if protocol == "" {
			protocol = "all"
		}
		base = fmt.Sprintf("%s:%s:%s:%s", d.Type, d.Title, d.Section, protocol)
	}
	contentHash := sha1.Sum([]byte(d.Content))
	return fmt.Sprintf("%s:%x", base, contentHash)
}

// stableInt64ID derives a deterministic 63-bit point ID from an arbitrary
// string key, exactly as the original _stable_int_id does.
func stableInt64ID(key string) uint64 {
	digest := sha256.Sum256([]byte(key))
	v := binary.BigEndian.Uint64(digest[:8])
	return v & ((1 << 63) - 1)
}

// SourceMeta is the (path, mtime, size) triple used for change detection.
type SourceMeta struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mtime"`
	Size    int64     `json:"size"`
}

// QdrantInfo records the outcome of the last successful rebuild.
type QdrantInfo struct {
	Collection          string `json:"collection"`
	PointsUpserted      int    `json:"points_upserted"`
	DurationSeconds     float64 `json:"duration_seconds"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
}

// Metadata is the change-detection record persisted between rebuilds.
type Metadata struct {
	LastBuild time.Time             `json:"last_build"`
	Sources   map[string]SourceMeta `json:"sources"`
	Qdrant    QdrantInfo            `json:"qdrant"`
}

func (m Metadata) empty() bool {
	return m.LastBuild.IsZero() && len(m.Sources) == 0
}

// SourceSet locates the files the manager watches for changes: the wiki
// corpus, the FAQ store, the BM25 vocabulary file it itself writes, and any
// additional configured corpora.
type SourceSet struct {
	WikiPath   string
	FAQPath    string
	VocabPath  string
	ExtraPaths []string
}

// Collect stats every configured path that exists. A configured path that is
// simply absent is not an error — it is just not tracked this round.
func (s SourceSet) Collect() (map[string]SourceMeta, error) {
	sources := make(map[string]SourceMeta)
	add := func(name, path string) error {
		if path == "" {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("stat %s: %w", path, err)
		}
		sources[name] = SourceMeta{Path: path, ModTime: info.ModTime(), Size: info.Size()}
		return nil
	}
	if err := add("wiki", s.WikiPath); err != nil {
		return nil, err
	}
	if err := add("faq", s.FAQPath); err != nil {
		return nil, err
	}
	if err := add("bm25_vocab", s.VocabPath); err != nil {
		return nil, err
	}
	for i, p := range s.ExtraPaths {
		if err := add(fmt.Sprintf("extra_%d", i), p); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// MetadataStore persists the change-detection record.
type MetadataStore interface {
	Load() (Metadata, error)
	Save(Metadata) error
}

// FileMetadataStore persists Metadata as JSON, written atomically (temp file
// + rename) so a crash mid-write never leaves a torn metadata file behind.
type FileMetadataStore struct {
	Path string
}

func (f FileMetadataStore) Load() (Metadata, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("index.FileMetadataStore.Load: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		slog.Warn("index: failed to parse metadata file, treating as absent", "path", f.Path, "error", err)
		return Metadata{}, nil
	}
	return meta, nil
}

func (f FileMetadataStore) Save(meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("index.FileMetadataStore.Save: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("index.FileMetadataStore.Save: %w", err)
	}
	return writeFileAtomic(f.Path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Embedder abstracts dense vector embedding for testability, matching the
// shape the rest of the retrieval pack already embeds against.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Point is one dense+sparse record to upsert into the collection.
type Point struct {
	ID            uint64
	Dense         []float32
	SparseIndices []int
	SparseValues  []float64
	Payload       map[string]any
}

// CollectionInfo reports a collection's observable state.
type CollectionInfo struct {
	PointsCount uint64
}

// CollectionStore is the narrow contract the manager needs from the backing
// vector store. The concrete implementation wraps github.com/qdrant/go-client.
type CollectionStore interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, collection string) (bool, error)
	Delete(ctx context.Context, collection string) error
	Create(ctx context.Context, collection string, denseSize uint64) error
	CreatePayloadIndex(ctx context.Context, collection, field string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Info(ctx context.Context, collection string) (CollectionInfo, error)
}

// RebuildResult summarizes the outcome of a rebuild request.
type RebuildResult struct {
	Rebuilt         bool
	Reason          string
	DurationSeconds float64
	PointsUpserted  int
}

// Manager owns the collection lifecycle: change detection and rebuild.
type Manager struct {
	store      CollectionStore
	meta       MetadataStore
	sources    SourceSet
	collection string
	embedder   Embedder

	embedBatchSize  int
	upsertBatchSize int

	readyBackoff func() backoff.BackOff

	mu         sync.Mutex
	rebuilding bool
	waitCh     chan struct{}
	lastResult RebuildResult
	lastErr    error
}

// Option configures a Manager.
type Option func(*Manager)

// WithBatchSizes overrides the embed/upsert batch sizes (default 64/64).
func WithBatchSizes(embed, upsert int) Option {
	return func(m *Manager) {
		if embed > 0 {
			m.embedBatchSize = embed
		}
		if upsert > 0 {
			m.upsertBatchSize = upsert
		}
	}
}

// WithReadyBackoff overrides the reachability-retry policy; tests can supply
// a backoff.BackOff with no waiting (e.g. backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 0)).
func WithReadyBackoff(factory func() backoff.BackOff) Option {
	return func(m *Manager) { m.readyBackoff = factory }
}

// NewManager constructs a Manager.
func NewManager(store CollectionStore, meta MetadataStore, sources SourceSet, collection string, embedder Embedder, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		meta:            meta,
		sources:         sources,
		collection:      collection,
		embedder:        embedder,
		embedBatchSize:  64,
		upsertBatchSize: 64,
		readyBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WaitUntilReady blocks until the backing store is reachable, or the retry
// budget is exhausted.
func (m *Manager) WaitUntilReady(ctx context.Context) error {
	op := func() error { return m.store.Ping(ctx) }
	if err := backoff.Retry(op, backoff.WithContext(m.readyBackoff(), ctx)); err != nil {
		return fmt.Errorf("index.WaitUntilReady: %w", err)
	}
	return nil
}

// ShouldRebuild reports whether the collection needs a rebuild and why.
func ShouldRebuild(meta Metadata, collectionExists bool, current map[string]SourceMeta) (bool, string) {
	if meta.empty() {
		return true, "no index metadata found"
	}
	if !collectionExists {
		return true, "qdrant collection missing"
	}
	for name, cur := range current {
		old, ok := meta.Sources[name]
		if !ok {
			return true, fmt.Sprintf("new source detected: %s", name)
		}
		if cur.ModTime.After(old.ModTime) {
			return true, fmt.Sprintf("source modified: %s", name)
		}
		if cur.Size != old.Size {
			return true, fmt.Sprintf("source size changed: %s", name)
		}
	}
	var removed []string
	for name := range meta.Sources {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		return true, fmt.Sprintf("source removed: %s", strings.Join(removed, ", "))
	}
	return false, ""
}

// RebuildIndex (re)builds the collection from documents if needed. Only one
// rebuild runs at a time per Manager; a concurrent caller receives the
// in-flight rebuild's result rather than starting a second one.
func (m *Manager) RebuildIndex(ctx context.Context, documents []Document, force bool) (RebuildResult, error) {
	m.mu.Lock()
	if m.rebuilding {
		ch := m.waitCh
		m.mu.Unlock()
		select {
		case <-ch:
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.lastResult, m.lastErr
		case <-ctx.Done():
			return RebuildResult{}, ctx.Err()
		}
	}
	m.rebuilding = true
	m.waitCh = make(chan struct{})
	m.mu.Unlock()

	result, err := m.doRebuild(ctx, documents, force)

	m.mu.Lock()
	m.rebuilding = false
	m.lastResult, m.lastErr = result, err
	close(m.waitCh)
	m.mu.Unlock()

	return result, err
}

func (m *Manager) doRebuild(ctx context.Context, documents []Document, force bool) (RebuildResult, error) {
	if len(documents) == 0 {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: no documents provided")
	}

	if err := m.WaitUntilReady(ctx); err != nil {
		return RebuildResult{}, err
	}

	meta, err := m.meta.Load()
	if err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: %w", err)
	}
	current, err := m.sources.Collect()
	if err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: %w", err)
	}
	exists, err := m.store.Exists(ctx, m.collection)
	if err != nil {
		exists = false
	}

	needed, reason := force, ""
	if !needed {
		needed, reason = ShouldRebuild(meta, exists, current)
	}
	if !needed {
		return RebuildResult{Rebuilt: false}, nil
	}

	slog.Info("index: rebuilding collection", "collection", m.collection, "reason", reason)
	start := time.Now()

	tok := tokenizer.New()
	for _, doc := range documents {
		if _, err := tok.TokenizeDocument(doc.Content); err != nil {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: build vocabulary: %w", err)
		}
	}
	if m.sources.VocabPath != "" {
		vocab, err := tok.ExportVocabulary()
		if err != nil {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: export vocabulary: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(m.sources.VocabPath), 0o755); err != nil {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: %w", err)
		}
		if err := writeFileAtomic(m.sources.VocabPath, vocab); err != nil {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: persist vocabulary: %w", err)
		}
	}

	probeText := documents[0].Content
	if probeText == "" {
		probeText = "probe"
	}
	probeVecs, err := m.embedder.Embed(ctx, []string{probeText})
	if err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: probe embed: %w", err)
	}
	if len(probeVecs) == 0 || len(probeVecs[0]) == 0 {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: failed to determine embedding vector size")
	}
	vectorSize := uint64(len(probeVecs[0]))

	if exists {
		if err := m.store.Delete(ctx, m.collection); err != nil {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: delete stale collection: %w", err)
		}
	}
	if err := m.store.Create(ctx, m.collection, vectorSize); err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: create collection: %w", err)
	}
	if err := m.store.CreatePayloadIndex(ctx, m.collection, "protocol"); err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: payload index protocol: %w", err)
	}
	if err := m.store.CreatePayloadIndex(ctx, m.collection, "type"); err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: payload index type: %w", err)
	}

	upserted := 0
	for batch := range batches(documents, m.embedBatchSize) {
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		dense, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: embed batch: %w", err)
		}
		if len(dense) != len(batch) {
			return RebuildResult{}, fmt.Errorf("index.RebuildIndex: embedder returned %d vectors for %d texts", len(dense), len(batch))
		}

		points := make([]Point, len(batch))
		for i, doc := range batch {
			sparse, err := tok.TokenizeDocumentStatic(doc.Content)
			if err != nil {
				return RebuildResult{}, fmt.Errorf("index.RebuildIndex: sparse vectorize: %w", err)
			}
			points[i] = Point{
				ID:            stableInt64ID(doc.docKey()),
				Dense:         dense[i],
				SparseIndices: sparse.Indices,
				SparseValues:  sparse.Values,
				Payload: map[string]any{
					"document_id": doc.ID,
					"content":     doc.Content,
					"type":        doc.Type,
					"title":       doc.Title,
					"section":     doc.Section,
					"protocol":    doc.Protocol,
				},
			}
		}

		for upsertBatch := range batches(points, m.upsertBatchSize) {
			if err := m.store.Upsert(ctx, m.collection, upsertBatch); err != nil {
				return RebuildResult{}, fmt.Errorf("index.RebuildIndex: upsert: %w", err)
			}
			upserted += len(upsertBatch)
		}
	}

	duration := time.Since(start).Seconds()

	newMeta := Metadata{
		LastBuild: time.Now(),
		Sources:   current,
		Qdrant: QdrantInfo{
			Collection:          m.collection,
			PointsUpserted:      upserted,
			DurationSeconds:     duration,
			EmbeddingDimensions: int(vectorSize),
		},
	}
	if err := m.meta.Save(newMeta); err != nil {
		return RebuildResult{}, fmt.Errorf("index.RebuildIndex: persist metadata: %w", err)
	}

	slog.Info("index: rebuild complete", "collection", m.collection, "points_upserted", upserted, "duration_seconds", duration)
	return RebuildResult{Rebuilt: true, Reason: reason, DurationSeconds: duration, PointsUpserted: upserted}, nil
}

// batches yields successive slices of size n (the last may be shorter).
func batches[T any](items []T, n int) func(yield func([]T) bool) {
	return func(yield func([]T) bool) {
		for i := 0; i < len(items); i += n {
			end := i + n
			if end > len(items) {
				end = len(items)
			}
			if !yield(items[i:end]) {
				return
			}
		}
	}
}
