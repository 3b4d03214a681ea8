// Package vectorstore archives embedded memories in Qdrant so they can be
// searched across restarts and by tools outside the simulation.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/smallville/internal/memory"
)

// DefaultCollection holds every resident's memories, told apart by the
// agent payload field.
const DefaultCollection = "smallville_memories"

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Archive wraps gRPC connections to Qdrant's collections and points
// services.
type Archive struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	ensured     bool
	mu          sync.Mutex
	logger      *zap.Logger
}

// NewArchive dials the Qdrant gRPC endpoint. The collection is created on
// the first write, once the embedding dimension is known.
func NewArchive(cfg QdrantConfig, logger *zap.Logger) (*Archive, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Archive{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		logger:      logger,
	}, nil
}

func (a *Archive) ensureCollection(ctx context.Context, dimension uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}
	if _, err := a.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: a.collection}); err == nil {
		a.ensured = true
		return nil
	}
	_, err := a.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", a.collection, err)
	}
	a.ensured = true
	a.logger.Info("qdrant collection created",
		zap.String("collection", a.collection), zap.Uint64("dimension", dimension))
	return nil
}

// pointID maps a memory to a stable Qdrant point ID, so archiving the same
// memory twice overwrites it.
func pointID(agentName, memoryID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(agentName+"/"+memoryID)).String()
}

func memoryPayload(agentName string, m memory.Memory) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	return map[string]*pb.Value{
		"agent":       str(agentName),
		"memory_id":   str(m.ID),
		"description": str(m.Description),
		"timestamp":   str(m.Timestamp.UTC().Format(time.RFC3339)),
		"importance":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.Importance)}},
	}
}

// Archive stores m under agentName. Memories without an embedding are
// skipped.
func (a *Archive) Archive(ctx context.Context, agentName string, m memory.Memory) error {
	if len(m.Embedding) == 0 {
		return nil
	}
	if err := a.ensureCollection(ctx, uint64(len(m.Embedding))); err != nil {
		return err
	}
	wait := true
	_, err := a.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: a.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(agentName, m.ID)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: m.Embedding}}},
				Payload: memoryPayload(agentName, m),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("archive memory %s of %s: %w", m.ID, agentName, err)
	}
	return nil
}

// Hit is one archived memory returned by Search.
type Hit struct {
	Agent       string    `json:"agent"`
	MemoryID    string    `json:"memory_id"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Importance  int       `json:"importance"`
	Score       float32   `json:"score"`
}

// Search returns up to topK of agentName's archived memories nearest to
// vector. An empty agentName searches every resident.
func (a *Archive) Search(ctx context.Context, agentName string, vector []float32, topK uint64) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: a.collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if agentName != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   "agent",
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: agentName}},
			}},
		}}}
	}
	resp, err := a.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", a.collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, hitFromPayload(r.Payload, r.Score))
	}
	return hits, nil
}

func hitFromPayload(payload map[string]*pb.Value, score float32) Hit {
	h := Hit{Score: score}
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *pb.Value_StringValue:
			switch k {
			case "agent":
				h.Agent = val.StringValue
			case "memory_id":
				h.MemoryID = val.StringValue
			case "description":
				h.Description = val.StringValue
			case "timestamp":
				h.Timestamp, _ = time.Parse(time.RFC3339, val.StringValue)
			case "importance":
				h.Importance, _ = strconv.Atoi(val.StringValue)
			}
		case *pb.Value_IntegerValue:
			if k == "importance" {
				h.Importance = int(val.IntegerValue)
			}
		}
	}
	return h
}

// Close tears down the underlying gRPC connection.
func (a *Archive) Close() error {
	return a.conn.Close()
}
