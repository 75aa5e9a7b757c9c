// Package semantic owns all vector index operations. The production
// implementation is a Qdrant collection accessed over gRPC; MemoryIndex
// implements the same contract in process for tests and offline use.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/pkg/fn"
)

// Payload field keys. These match the payload the corpus has always been
// stored with, so an index written by older tooling stays readable.
const (
	fieldSource     = "source"
	fieldChunkIndex = "chunk_index"
	fieldText       = "text"
	fieldKind       = "kind"
)

// kindManifest tags the reserved manifest point so it never surfaces in
// search results or id listings.
const kindManifest = "manifest"

// manifestID is the fixed id of the per-collection manifest point.
var manifestID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kai:manifest:v1")).String()

// upsertBatchSize caps points per upsert RPC.
const upsertBatchSize = 64

// rpcRetry is the backoff applied to every index RPC before the failure is
// surfaced as domain.ErrIndexUnavailable.
var rpcRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// Store is the Qdrant-backed vector index.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// call runs one RPC with backoff and wraps exhausted failures in
// domain.ErrIndexUnavailable.
func call[T any](ctx context.Context, op string, f func(context.Context) (T, error)) (T, error) {
	res := fn.Retry(ctx, rpcRetry, func(ctx context.Context) fn.Result[T] {
		return fn.FromPair(f(ctx))
	})
	v, err := res.Unwrap()
	if err != nil {
		return v, fmt.Errorf("semantic: %s: %w", op, errors.Join(domain.ErrIndexUnavailable, err))
	}
	return v, nil
}

// EnsureCollection creates the collection if absent. If it exists with a
// different vector dimension the call fails with domain.ErrSchemaMismatch.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	list, err := call(ctx, "list collections", func(ctx context.Context) (*pb.ListCollectionsResponse, error) {
		return s.collections.List(ctx, &pb.ListCollectionsRequest{})
	})
	if err != nil {
		return err
	}

	for _, c := range list.GetCollections() {
		if c.GetName() != s.collection {
			continue
		}
		info, err := call(ctx, "collection info", func(ctx context.Context) (*pb.GetCollectionInfoResponse, error) {
			return s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		})
		if err != nil {
			return err
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != uint64(dimension) {
			return fmt.Errorf("semantic: collection %s has dimension %d, embedder has %d: %w",
				s.collection, size, dimension, domain.ErrSchemaMismatch)
		}
		return nil
	}

	_, err = call(ctx, "create collection", func(ctx context.Context) (*pb.CollectionOperationResponse, error) {
		return s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dimension),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
	})
	return err
}

// WriteManifest records the embedding model behind the collection as a
// reserved point. The manifest vector is all zeros; it is filtered out of
// every search and listing.
func (s *Store) WriteManifest(ctx context.Context, m Manifest) error {
	point := &pb.PointStruct{
		Id:      pointID(manifestID),
		Vectors: pointVector(make([]float32, m.Dimension)),
		Payload: map[string]*pb.Value{
			fieldKind:   {Kind: &pb.Value_StringValue{StringValue: kindManifest}},
			"model":     {Kind: &pb.Value_StringValue{StringValue: m.Model}},
			"dimension": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.Dimension)}},
		},
	}
	wait := true
	_, err := call(ctx, "write manifest", func(ctx context.Context) (*pb.PointsOperationResponse, error) {
		return s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         []*pb.PointStruct{point},
		})
	})
	return err
}

// ReadManifest returns the recorded manifest, or nil if none was written.
func (s *Store) ReadManifest(ctx context.Context) (*Manifest, error) {
	enable := true
	resp, err := call(ctx, "read manifest", func(ctx context.Context) (*pb.GetResponse, error) {
		return s.points.Get(ctx, &pb.GetPoints{
			CollectionName: s.collection,
			Ids:            []*pb.PointId{pointID(manifestID)},
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: enable}},
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	payload := resp.GetResult()[0].GetPayload()
	return &Manifest{
		Model:     payload["model"].GetStringValue(),
		Dimension: int(payload["dimension"].GetIntegerValue()),
	}, nil
}

// Upsert inserts or overwrites entries by id. Atomicity is per entry: a
// failing batch is replayed point by point so the survivors stay committed
// and the rest come back in UpsertResult.Failed.
func (s *Store) Upsert(ctx context.Context, entries []Entry) (*UpsertResult, error) {
	result := &UpsertResult{}
	wait := true

	for _, batch := range fn.Chunk(entries, upsertBatchSize) {
		points := fn.Map(batch, toPoint)
		_, err := call(ctx, "upsert", func(ctx context.Context) (*pb.PointsOperationResponse, error) {
			return s.points.Upsert(ctx, &pb.UpsertPoints{
				CollectionName: s.collection,
				Wait:           &wait,
				Points:         points,
			})
		})
		if err == nil {
			result.Applied += len(batch)
			continue
		}

		// Replay individually to find out which ids actually failed.
		for _, e := range batch {
			p := toPoint(e)
			_, perr := call(ctx, "upsert point", func(ctx context.Context) (*pb.PointsOperationResponse, error) {
				return s.points.Upsert(ctx, &pb.UpsertPoints{
					CollectionName: s.collection,
					Wait:           &wait,
					Points:         []*pb.PointStruct{p},
				})
			})
			if perr != nil {
				result.Failed = append(result.Failed, FailedEntry{ID: e.ID, Err: perr})
			} else {
				result.Applied++
			}
		}
	}
	return result, nil
}

// Delete removes entries by id. Deleting a non-existent id is a no-op.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	wait := true
	_, err := call(ctx, "delete", func(ctx context.Context) (*pb.PointsOperationResponse, error) {
		return s.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: fn.Map(ids, pointID)},
				},
			},
		})
	})
	return err
}

// Search returns at most topK entries with cosine similarity >= threshold
// (nil threshold means none), ordered by descending similarity with ties
// broken by ascending id.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, threshold *float32) ([]Scored, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		ScoreThreshold: threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         &pb.Filter{MustNot: []*pb.Condition{fieldMatch(fieldKind, kindManifest)}},
	}

	resp, err := call(ctx, "search", func(ctx context.Context) (*pb.SearchResponse, error) {
		return s.points.Search(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	results := fn.Map(resp.GetResult(), fromScoredPoint)
	sortScored(results)
	return results, nil
}

// ListIDs returns the ids stored for one source, or every id in the
// collection when sourceID is empty. Used by ingestion to detect stale
// entries.
func (s *Store) ListIDs(ctx context.Context, sourceID string) ([]string, error) {
	filter := &pb.Filter{MustNot: []*pb.Condition{fieldMatch(fieldKind, kindManifest)}}
	if sourceID != "" {
		filter.Must = []*pb.Condition{fieldMatch(fieldSource, sourceID)}
	}

	var (
		ids    []string
		offset *pb.PointId
		limit  = uint32(512)
	)
	for {
		resp, err := call(ctx, "scroll", func(ctx context.Context) (*pb.ScrollResponse, error) {
			return s.points.Scroll(ctx, &pb.ScrollPoints{
				CollectionName: s.collection,
				Filter:         filter,
				Limit:          &limit,
				Offset:         offset,
			})
		})
		if err != nil {
			return nil, err
		}
		for _, p := range resp.GetResult() {
			ids = append(ids, p.GetId().GetUuid())
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

// --- conversions ---

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func pointVector(data []float32) *pb.Vectors {
	return &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: data}}}
}

func toPoint(e Entry) *pb.PointStruct {
	return &pb.PointStruct{
		Id:      pointID(e.ID),
		Vectors: pointVector(e.Vector),
		Payload: map[string]*pb.Value{
			fieldSource:     {Kind: &pb.Value_StringValue{StringValue: e.Payload.SourceID}},
			fieldChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(e.Payload.ChunkIndex)}},
			fieldText:       {Kind: &pb.Value_StringValue{StringValue: e.Payload.Text}},
		},
	}
}

func fromScoredPoint(p *pb.ScoredPoint) Scored {
	payload := p.GetPayload()
	return Scored{
		Entry: Entry{
			ID: p.GetId().GetUuid(),
			Payload: Payload{
				SourceID:   payload[fieldSource].GetStringValue(),
				ChunkIndex: int(payload[fieldChunkIndex].GetIntegerValue()),
				Text:       payload[fieldText].GetStringValue(),
			},
		},
		Score: p.GetScore(),
	}
}

// sortScored orders by descending score, ties by ascending id, so repeated
// identical queries always rank identically.
func sortScored(results []Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
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
