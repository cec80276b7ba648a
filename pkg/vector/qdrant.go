package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant provider.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Qdrant talks to a Qdrant server over gRPC. The collection argument names
// the Qdrant collection; missing collections are created on first upsert
// with cosine distance and the incoming vector's dimension.
type Qdrant struct {
	client *qdrant.Client
}

// NewQdrant creates a Qdrant provider.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &Qdrant{client: client}, nil
}

// Name implements Provider.
func (q *Qdrant) Name() string { return "qdrant" }

func (q *Qdrant) ensureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", collection, err)
	}
	return nil
}

// Upsert implements Provider. Content travels in the point payload under
// the "content" key.
func (q *Qdrant) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	if err := q.ensureCollection(ctx, collection, len(vec)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for k, v := range metadata {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return fmt.Errorf("qdrant: failed to convert metadata %q: %w", k, err)
		}
		payload[k] = val
	}
	if content != "" {
		val, err := qdrant.NewValue(content)
		if err != nil {
			return fmt.Errorf("qdrant: failed to convert content: %w", err)
		}
		payload["content"] = val
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to upsert %q: %w", id, err)
	}
	return nil
}

// Search implements Provider.
func (q *Qdrant) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	limit := uint64(topK)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		metadata := payloadToMetadata(point.Payload)

		content := ""
		if s, ok := metadata["content"].(string); ok {
			content = s
		}

		results = append(results, Result{
			ID:       pointIDString(point.Id),
			Content:  content,
			Score:    point.Score,
			Metadata: metadata,
		})
	}
	return results, nil
}

// Delete implements Provider.
func (q *Qdrant) Delete(ctx context.Context, collection, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(id)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to delete %q: %w", id, err)
	}
	return nil
}

// Close implements Provider.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

func payloadToMetadata(payload map[string]*qdrant.Value) map[string]any {
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		metadata[key] = valueToAny(value)
	}
	return metadata
}

func valueToAny(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = valueToAny(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		return payloadToMetadata(v.StructValue.Fields)
	default:
		return nil
	}
}

var _ Provider = (*Qdrant)(nil)
