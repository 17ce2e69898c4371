package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresDenseStore is the pgvector-backed fallback for dense search when
// Qdrant is unreachable. Grounded on the teacher's repository.ChunkRepo:
// the same pgx.Batch bulk insert and `embedding <=> $1::vector` cosine
// distance query, narrowed to a single flat knowledge_chunks table instead
// of the teacher's per-user document_chunks/documents join (this store has
// no per-user ownership to scope by).
type PostgresDenseStore struct {
	pool *pgxpool.Pool
}

// NewPostgresDenseStore constructs a PostgresDenseStore.
func NewPostgresDenseStore(pool *pgxpool.Pool) *PostgresDenseStore {
	return &PostgresDenseStore{pool: pool}
}

// Chunk is one embedded passage persisted to knowledge_chunks.
type Chunk struct {
	ID         string
	DocumentID string
	Title      string
	Section    string
	Category   string
	Protocol   string
	Content    string
}

var _ DenseSearcher = (*PostgresDenseStore)(nil)

// Replace atomically swaps the fallback table's contents for chunks/vectors,
// mirroring index.Manager's delete-then-recreate Qdrant rebuild so the
// fallback store never serves a mix of two corpus generations.
func (s *PostgresDenseStore) Replace(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("retrieval.PostgresDenseStore.Replace: chunk count (%d) != vector count (%d)", len(chunks), len(vectors))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("retrieval.PostgresDenseStore.Replace: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE TABLE knowledge_chunks`); err != nil {
		return fmt.Errorf("retrieval.PostgresDenseStore.Replace: truncate: %w", err)
	}

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(`
			INSERT INTO knowledge_chunks (id, document_id, title, section, category, protocol, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.DocumentID, c.Title, c.Section, c.Category, c.Protocol, c.Content, pgvector.NewVector(vectors[i]),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("retrieval.PostgresDenseStore.Replace: chunk %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("retrieval.PostgresDenseStore.Replace: %w", err)
	}

	return tx.Commit(ctx)
}

// SearchDense finds the top-k chunks nearest to vector by cosine distance,
// optionally scoped by an exact-match filter on protocol/category.
func (s *PostgresDenseStore) SearchDense(ctx context.Context, vector []float32, k int, filter map[string]string) ([]RetrievedDoc, error) {
	if k <= 0 {
		k = defaultTopK
	}
	embedding := pgvector.NewVector(vector)

	query := `
		SELECT document_id, title, section, category, protocol, content,
			1 - (embedding <=> $1::vector) AS similarity
		FROM knowledge_chunks`

	args := []any{embedding}
	var conditions []string
	for _, field := range []string{"protocol", "category"} {
		if v, ok := filter[field]; ok && v != "" {
			args = append(args, v)
			conditions = append(conditions, fmt.Sprintf("%s = $%d", field, len(args)))
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieval.PostgresDenseStore.SearchDense: %w", err)
	}
	defer rows.Close()

	var out []RetrievedDoc
	for rows.Next() {
		var rd RetrievedDoc
		if err := rows.Scan(
			&rd.Reference.DocumentID, &rd.Reference.Title, &rd.Reference.Section,
			&rd.Reference.Category, &rd.Reference.Protocol, &rd.Content, &rd.Score,
		); err != nil {
			return nil, fmt.Errorf("retrieval.PostgresDenseStore.SearchDense: scan: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// DenseOnlyRetriever adapts a DenseSearcher to the full Retriever contract
// so ResilientRetriever can wrap the pgvector fallback (no sparse leg) on
// the same footing as the Qdrant-backed HybridRetriever primary.
type DenseOnlyRetriever struct {
	embedder QueryEmbedder
	dense    DenseSearcher
}

// NewDenseOnlyRetriever constructs a DenseOnlyRetriever.
func NewDenseOnlyRetriever(embedder QueryEmbedder, dense DenseSearcher) *DenseOnlyRetriever {
	return &DenseOnlyRetriever{embedder: embedder, dense: dense}
}

var _ Retriever = (*DenseOnlyRetriever)(nil)

func (d *DenseOnlyRetriever) search(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	if query == "" {
		return nil, fmt.Errorf("retrieval.DenseOnlyRetriever: query is empty")
	}
	vecs, err := d.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval.DenseOnlyRetriever: embed query: %w", err)
	}
	return d.dense.SearchDense(ctx, vecs[0], k, filter)
}

// RetrieveWithScores returns the top-k fallback results with their scores.
func (d *DenseOnlyRetriever) RetrieveWithScores(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	return d.search(ctx, query, k, filter)
}

// Retrieve returns the top-k fallback results; scores are zeroed, matching
// HybridRetriever's unscored Retrieve contract.
func (d *DenseOnlyRetriever) Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	docs, err := d.search(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedDoc, len(docs))
	for i, doc := range docs {
		doc.Score = 0
		out[i] = doc
	}
	return out, nil
}

// HealthCheck probes the query-embedding path; any failure reports unhealthy.
func (d *DenseOnlyRetriever) HealthCheck(ctx context.Context) bool {
	_, err := d.embedder.Embed(ctx, []string{"health check"})
	return err == nil
}
