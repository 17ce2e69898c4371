package retrieval

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
	"github.com/connexus-ai/ragbox-support-gateway/internal/tokenizer"
)

// QdrantSearcher implements DenseSearcher and SparseSearcher against the
// same named-vector collection internal/index.Manager populates ("dense"
// and "sparse" vectors, a flat string payload). Grounded on
// intelligencedev-manifold's qdrantVector.SimilaritySearch (client.Query with
// qdrant.NewQueryDense + a Match-per-field Filter) and Tangerg-lynx's
// VectorStore.Retrieve (payload -> map[string]any conversion).
type QdrantSearcher struct {
	client     *qdrant.Client
	collection string
}

var _ DenseSearcher = (*QdrantSearcher)(nil)
var _ SparseSearcher = (*QdrantSearcher)(nil)

// NewQdrantSearcher connects to Qdrant's gRPC API at host:port for
// query-time nearest-neighbour search.
func NewQdrantSearcher(host string, port int, apiKey string, collection string) (*QdrantSearcher, error) {
	cfg := &qdrant.Config{Host: host, Port: port}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval.NewQdrantSearcher: %w", err)
	}
	return &QdrantSearcher{client: client, collection: collection}, nil
}

func (q *QdrantSearcher) Close() error {
	return q.client.Close()
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for field, value := range filter {
		must = append(must, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: must}
}

func usingVector(name string) *string {
	return &name
}

func (q *QdrantSearcher) SearchDense(ctx context.Context, vector []float32, k int, filter map[string]string) ([]RetrievedDoc, error) {
	if k <= 0 {
		k = defaultTopK
	}
	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          usingVector("dense"),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval.QdrantSearcher.SearchDense: %w", err)
	}
	return toRetrievedDocs(points), nil
}

func (q *QdrantSearcher) SearchSparse(ctx context.Context, vector tokenizer.SparseVector, k int, filter map[string]string) ([]RetrievedDoc, error) {
	if k <= 0 {
		k = defaultTopK
	}
	limit := uint64(k)
	indices := make([]uint32, len(vector.Indices))
	for i, idx := range vector.Indices {
		indices[i] = uint32(idx)
	}
	values := make([]float32, len(vector.Values))
	for i, v := range vector.Values {
		values[i] = float32(v)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuerySparse(indices, values),
		Using:          usingVector("sparse"),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval.QdrantSearcher.SearchSparse: %w", err)
	}
	return toRetrievedDocs(points), nil
}

func toRetrievedDocs(points []*qdrant.ScoredPoint) []RetrievedDoc {
	out := make([]RetrievedDoc, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		out = append(out, RetrievedDoc{
			Reference: model.DocumentReference{
				DocumentID: payloadString(payload, "document_id"),
				Title:      payloadString(payload, "title"),
				Section:    payloadString(payload, "section"),
				Category:   payloadString(payload, "type"),
				Protocol:   payloadString(payload, "protocol"),
			},
			Content: payloadString(payload, "content"),
			Score:   float64(p.GetScore()),
		})
	}
	return out
}

func payloadString(payload map[string]*qdrant.Value, field string) string {
	v, ok := payload[field]
	if !ok || v == nil {
		return ""
	}
	return v.GetStringValue()
}
