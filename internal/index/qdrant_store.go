package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements CollectionStore against a real Qdrant deployment.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore connects to Qdrant's gRPC API at host:port.
func NewQdrantStore(host string, port int, apiKey string) (*QdrantStore, error) {
	cfg := &qdrant.Config{Host: host, Port: port}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("index.NewQdrantStore: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

func (q *QdrantStore) Ping(ctx context.Context) error {
	_, err := q.client.ListCollections(ctx)
	return err
}

func (q *QdrantStore) Exists(ctx context.Context, collection string) (bool, error) {
	return q.client.CollectionExists(ctx, collection)
}

func (q *QdrantStore) Delete(ctx context.Context, collection string) error {
	return q.client.DeleteCollection(ctx, collection)
}

func (q *QdrantStore) Create(ctx context.Context, collection string, denseSize uint64) error {
	sparseConfig := map[string]*qdrant.SparseVectorParams{
		"sparse": {},
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"dense": {Size: denseSize, Distance: qdrant.Distance_Cosine},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(sparseConfig),
	})
}

func (q *QdrantStore) CreatePayloadIndex(ctx context.Context, collection, field string) error {
	_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      field,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	return err
}

func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id: qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				"dense":  qdrant.NewVectorDense(p.Dense),
				"sparse": qdrant.NewVectorSparse(toUint32(p.SparseIndices), toFloat32(p.SparseValues)),
			}),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
	})
	return err
}

func (q *QdrantStore) Info(ctx context.Context, collection string) (CollectionInfo, error) {
	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{PointsCount: info.GetPointsCount()}, nil
}

func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func toUint32(indices []int) []uint32 {
	out := make([]uint32, len(indices))
	for i, v := range indices {
		out[i] = uint32(v)
	}
	return out
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
