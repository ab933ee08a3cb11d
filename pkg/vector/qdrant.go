package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore talks to a Qdrant instance over gRPC. Chunk ids are
// arbitrary strings while Qdrant point ids must be UUIDs, so point
// ids are derived deterministically from the chunk id and the real
// id travels in the payload.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// QdrantOptions configures the connection.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// NewQdrantStore connects and makes sure the collection exists.
func NewQdrantStore(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: opts.Collection,
		dimension:  opts.Dimension,
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := make(map[string]*qdrant.Value, len(d.Metadata)+1)
		for key, value := range d.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("convert metadata %q for %s: %w", key, d.ID, err)
			}
			payload[key] = val
		}
		idVal, err := qdrant.NewValue(d.ID)
		if err != nil {
			return fmt.Errorf("convert id for %s: %w", d.ID, err)
		}
		payload[MetaChunkID] = idVal

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(d.Vector...),
			Payload: payload,
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Flush is a no-op: upserts are issued with wait=true.
func (s *QdrantStore) Flush(ctx context.Context) error {
	return nil
}

func buildFilter(filter *Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}

	var conditions []*qdrant.Condition
	if filter.Version != "" {
		conditions = append(conditions, qdrant.NewMatch(MetaVersion, filter.Version))
	}
	if filter.PrivacyLevel != "" {
		conditions = append(conditions, qdrant.NewMatch(MetaPrivacyLevel, filter.PrivacyLevel))
	}
	if filter.FileIDs != nil {
		conditions = append(conditions, qdrant.NewMatchKeywords(MetaFileID, filter.FileIDs...))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if filter != nil && filter.FileIDs != nil && len(filter.FileIDs) == 0 {
		return nil, nil
	}

	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(queryVector),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		meta := decodePayload(point.Payload)

		id := ""
		if v, ok := meta[MetaChunkID].(string); ok {
			id = v
		} else if point.Id != nil {
			if u, ok := point.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
				id = u.Uuid
			}
		}

		hits = append(hits, Hit{ID: id, Score: point.Score, Metadata: meta})
	}
	return hits, nil
}

func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	meta := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			meta[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			meta[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			meta[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			meta[key] = v.BoolValue
		default:
			meta[key] = value
		}
	}
	return meta
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(pointID(id)))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*QdrantStore)(nil)
