// Package semantic is the sole owner of all Qdrant operations: the
// damage-chunk collection, idempotent point upserts, and similarity
// search over prior estimates.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/trueclaim/claims-engine/engine/domain"
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

// VectorStore holds the Qdrant connection and the damage collection name.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore backed by explicit clients. Test seam.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// classify maps gRPC failures onto the shared error taxonomy.
// Unreachable or overloaded Qdrant is retryable; a rejected request is not.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("semantic: %s: %v: %w", op, err, domain.ErrStoreUnavailable)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.AlreadyExists:
		return fmt.Errorf("semantic: %s: %v: %w", op, err, domain.ErrStore)
	default:
		return fmt.Errorf("semantic: %s: %w", op, err)
	}
}

// PointID derives the stable point identity for a vehicle side. Saving
// the same vin and side again overwrites the prior record.
func PointID(vin string, side domain.Side) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(vin+"|"+string(side))).String()
}

// EnsureCollection creates the damage collection if it doesn't exist.
// The vector size is fixed; every upsert and search must match it.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return classify("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(domain.EmbeddingDim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return classify("create collection "+v.collection, err)
	}
	return nil
}

// Info describes the damage collection.
type Info struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	Status      string `json:"status"`
	VectorSize  uint64 `json:"vector_size"`
}

// CollectionInfo returns point count and status for the collection.
func (v *VectorStore) CollectionInfo(ctx context.Context) (Info, error) {
	resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return Info{}, classify("collection info", err)
	}
	info := resp.GetResult()
	return Info{
		Name:        v.collection,
		PointsCount: info.GetPointsCount(),
		Status:      info.GetStatus().String(),
		VectorSize:  uint64(domain.EmbeddingDim),
	}, nil
}

// DeleteCollection removes the collection and all stored chunks.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return classify("delete collection "+v.collection, err)
	}
	return nil
}

// UpsertChunk stores one analyzed side under its stable point ID. The
// payload is flattened so make and model remain filterable keywords;
// structured fields travel as JSON strings.
func (v *VectorStore) UpsertChunk(ctx context.Context, id string, vector []float32, chunk domain.ChunkOutput) error {
	if len(vector) != domain.EmbeddingDim {
		return fmt.Errorf("semantic: vector has %d dimensions, collection expects %d: %w",
			len(vector), domain.EmbeddingDim, domain.ErrSchemaMismatch)
	}

	payload := map[string]*pb.Value{
		"content":             stringValue(chunk.MergedDamageDescription),
		"vin":                 stringValue(chunk.VehicleInfo.VIN),
		"make":                stringValue(chunk.VehicleInfo.Make),
		"model":               stringValue(chunk.VehicleInfo.Model),
		"body_type":           stringValue(chunk.VehicleInfo.BodyType),
		"year":                {Kind: &pb.Value_IntegerValue{IntegerValue: int64(chunk.VehicleInfo.Year)}},
		"side":                stringValue(string(chunk.Side)),
		"images":              jsonValue(chunk.Images),
		"damage_descriptions": jsonValue(chunk.DamageDescriptions),
		"approved_estimate":   jsonValue(chunk.ApprovedEstimate),
		"uploaded_at":         stringValue(time.Now().UTC().Format(time.RFC3339)),
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			Payload: payload,
		}},
	})
	if err != nil {
		return classify("upsert point "+id, err)
	}
	return nil
}

// SearchOpts tunes a similarity search.
type SearchOpts struct {
	TopK           int
	ScoreThreshold float32
	// Filters are exact keyword matches on payload fields, e.g. make or model.
	Filters map[string]string
}

// Search returns prior damage chunks most similar to the query vector,
// best first.
func (v *VectorStore) Search(ctx context.Context, vector []float32, opts SearchOpts) ([]domain.RetrievedChunk, error) {
	if len(vector) != domain.EmbeddingDim {
		return nil, fmt.Errorf("semantic: query vector has %d dimensions, collection expects %d: %w",
			len(vector), domain.EmbeddingDim, domain.ErrSchemaMismatch)
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(opts.TopK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if opts.ScoreThreshold > 0 {
		req.ScoreThreshold = &opts.ScoreThreshold
	}
	if len(opts.Filters) > 0 {
		must := make([]*pb.Condition, 0, len(opts.Filters))
		for k, val := range opts.Filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, classify("search", err)
	}

	chunks := make([]domain.RetrievedChunk, len(resp.GetResult()))
	for i, hit := range resp.GetResult() {
		chunks[i] = decodeHit(hit)
	}
	return chunks, nil
}

func decodeHit(hit *pb.ScoredPoint) domain.RetrievedChunk {
	p := hit.GetPayload()
	c := domain.RetrievedChunk{
		Score:   hit.GetScore(),
		Content: p["content"].GetStringValue(),
		Side:    domain.Side(p["side"].GetStringValue()),
		VehicleInfo: domain.VehicleInfo{
			VIN:      p["vin"].GetStringValue(),
			Make:     p["make"].GetStringValue(),
			Model:    p["model"].GetStringValue(),
			Year:     int(p["year"].GetIntegerValue()),
			BodyType: p["body_type"].GetStringValue(),
		},
	}
	// Malformed stored JSON degrades to empty fields rather than failing
	// the whole search.
	_ = json.Unmarshal([]byte(p["damage_descriptions"].GetStringValue()), &c.DamageDescriptions)
	_ = json.Unmarshal([]byte(p["approved_estimate"].GetStringValue()), &c.ApprovedEstimate)
	return c
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func jsonValue(v any) *pb.Value {
	b, err := json.Marshal(v)
	if err != nil {
		return stringValue("")
	}
	return stringValue(string(b))
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
