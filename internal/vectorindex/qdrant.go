package vectorindex

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller's original string ID in the point
// payload, since Qdrant point IDs must be a u64 or UUID: non-UUID document
// IDs (e.g. "doc:ab12cd34...") are deterministically mapped to a UUIDv5 and
// the original ID is recovered from the payload on every read.
const payloadIDField = "_original_id"

// QdrantIndex is an Index backed by Qdrant's native gRPC client.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantIndex parses dsn ("host:port" or "host:port?api_key=...") and
// ensures collection exists with the given dimension/metric, creating it if
// absent.
func NewQdrantIndex(ctx context.Context, dsn, collection string, dimension int, metric string) (*QdrantIndex, error) {
	host, port, apiKey, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	idx := &QdrantIndex{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(ctx, metric); err != nil {
		return nil, err
	}
	return idx, nil
}

func parseDSN(dsn string) (host string, port int, apiKey string, err error) {
	if u, perr := url.Parse("qdrant://" + dsn); perr == nil && u.Host != "" {
		host = u.Hostname()
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		apiKey = u.Query().Get("api_key")
	}
	if host == "" {
		h, p, serr := net.SplitHostPort(dsn)
		if serr != nil {
			return "", 0, "", serr
		}
		host = h
		port, _ = strconv.Atoi(p)
	}
	if port == 0 {
		port = 6334
	}
	return host, port, apiKey, nil
}

func distanceFor(metric string) qdrant.Distance {
	switch metric {
	case "euclid":
		return qdrant.Distance_Euclid
	case "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (idx *QdrantIndex) ensureCollection(ctx context.Context, metric string) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection %q: %w", idx.collection, err)
	}
	if exists {
		return nil
	}
	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimension),
			Distance: distanceFor(metric),
		}),
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection %q: %w", idx.collection, err)
	}
	return nil
}

func pointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (idx *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]any{payloadIDField: p.ID}
		for k, v := range p.Metadata {
			payload[k] = v
		}
		pbPoints = append(pbPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert into %q: %w", idx.collection, err)
	}
	return nil
}

func (idx *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pbIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = qdrant.NewID(pointUUID(id))
	}
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(pbIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete from %q: %w", idx.collection, err)
	}
	return nil
}

func (idx *QdrantIndex) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]any) ([]Result, error) {
	req := &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for key, val := range filter {
			conditions = append(conditions, qdrant.NewMatch(key, fmt.Sprintf("%v", val)))
		}
		req.Filter = &qdrant.Filter{Must: conditions}
	}

	resp, err := idx.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query in %q: %w", idx.collection, err)
	}

	results := make([]Result, 0, len(resp))
	for _, p := range resp {
		meta := make(map[string]any, len(p.Payload))
		var originalID string
		for k, v := range p.Payload {
			if k == payloadIDField {
				originalID = v.GetStringValue()
				continue
			}
			meta[k] = v.AsInterface()
		}
		results = append(results, Result{ID: originalID, Score: p.Score, Metadata: meta})
	}
	return results, nil
}

func (idx *QdrantIndex) Dimension() int { return idx.dimension }

func (idx *QdrantIndex) Close() error {
	return idx.client.Close()
}
