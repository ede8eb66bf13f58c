package knowledge

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/MiraAI/mira-guide/engine/domain"
)

// pointsAPI and collectionsAPI narrow the generated qdrant clients to what
// the index uses. Defined here for testability.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantIndex owns all qdrant operations for the exhibit collection.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// NewQdrantIndex connects to qdrant over gRPC.
func NewQdrantIndex(addr, collection string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("knowledge: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewQdrantIndexWithClients wires pre-built clients, used by tests.
func NewQdrantIndexWithClients(points pointsAPI, collections collectionsAPI, collection string) *QdrantIndex {
	return &QdrantIndex{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("knowledge: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("knowledge: create collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert stores embedded chunks.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []domain.ExhibitChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: c.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"content":    {Kind: &pb.Value_StringValue{StringValue: c.Text}},
				"exhibit_id": {Kind: &pb.Value_StringValue{StringValue: c.ExhibitID}},
				"source":     {Kind: &pb.Value_StringValue{StringValue: c.Source}},
				"seq":        {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Seq)}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("knowledge: upsert %d points: %w", len(chunks), err)
	}
	return nil
}

// Search performs k-NN search, restricted to one exhibit when exhibitID is
// non-empty.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, exhibitID string) ([]domain.ScoredChunk, error) {
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if exhibitID != "" {
		req.Filter = exhibitFilter(exhibitID)
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	results := make([]domain.ScoredChunk, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		chunk := domain.ExhibitChunk{ID: r.GetId().GetUuid()}
		for k, val := range r.GetPayload() {
			switch k {
			case "content":
				chunk.Text = val.GetStringValue()
			case "exhibit_id":
				chunk.ExhibitID = val.GetStringValue()
			case "source":
				chunk.Source = val.GetStringValue()
			case "seq":
				chunk.Seq = int(val.GetIntegerValue())
			}
		}
		results[i] = domain.ScoredChunk{Chunk: chunk, Score: r.GetScore()}
	}
	return results, nil
}

// PurgeExhibit removes every chunk of one exhibit and reports how many
// points were deleted. Unknown exhibits purge zero.
func (q *QdrantIndex) PurgeExhibit(ctx context.Context, exhibitID string) (int, error) {
	exact := true
	countResp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Filter:         exhibitFilter(exhibitID),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("knowledge: count for purge %s: %w", exhibitID, err)
	}
	n := int(countResp.GetResult().GetCount())
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: exhibitFilter(exhibitID),
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("knowledge: purge %s: %w", exhibitID, err)
	}
	return n, nil
}

// Count returns the total number of stored chunks.
func (q *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("knowledge: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func exhibitFilter(exhibitID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "exhibit_id",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: exhibitID},
					},
				},
			},
		}},
	}
}
