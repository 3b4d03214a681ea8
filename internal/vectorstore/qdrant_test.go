package vectorstore

import (
	"context"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/memory"
)

func TestPointIDStable(t *testing.T) {
	a := pointID("Amy", "m-1")
	if a != pointID("Amy", "m-1") {
		t.Error("point id should be deterministic")
	}
	if a == pointID("Bob", "m-1") {
		t.Error("point id should depend on the agent")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	at := time.Date(2023, 2, 13, 9, 0, 0, 0, time.UTC)
	m := memory.Memory{ID: "m-1", Description: "Bob ordered a latte", Timestamp: at, Importance: 6}

	h := hitFromPayload(memoryPayload("Amy", m), 0.9)
	if h.Agent != "Amy" || h.MemoryID != "m-1" || h.Description != m.Description {
		t.Errorf("unexpected hit: %+v", h)
	}
	if !h.Timestamp.Equal(at) || h.Importance != 6 || h.Score != 0.9 {
		t.Errorf("unexpected hit fields: %+v", h)
	}

	legacy := map[string]*pb.Value{"importance": {Kind: &pb.Value_StringValue{StringValue: "4"}}}
	if got := hitFromPayload(legacy, 0).Importance; got != 4 {
		t.Errorf("string importance: got %d", got)
	}
}

func TestArchiveSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping qdrant container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("qdrant container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6334/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	a, err := NewArchive(QdrantConfig{Host: host, Port: port.Int(), Collection: "test_memories"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	at := time.Date(2023, 2, 13, 9, 0, 0, 0, time.UTC)
	memories := []struct {
		agent string
		m     memory.Memory
	}{
		{"Amy", memory.Memory{ID: "1", Description: "coffee", Timestamp: at, Embedding: []float32{1, 0, 0}}},
		{"Amy", memory.Memory{ID: "2", Description: "garden", Timestamp: at, Embedding: []float32{0, 1, 0}}},
		{"Bob", memory.Memory{ID: "1", Description: "coffee too", Timestamp: at, Embedding: []float32{1, 0, 0}}},
		{"Bob", memory.Memory{ID: "3", Description: "no vector", Timestamp: at}},
	}
	for _, x := range memories {
		if err := a.Archive(ctx, x.agent, x.m); err != nil {
			t.Fatalf("Archive %s/%s: %v", x.agent, x.m.ID, err)
		}
	}

	hits, err := a.Search(ctx, "Amy", []float32{1, 0.1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits for Amy, want 2", len(hits))
	}
	if hits[0].Description != "coffee" || hits[0].Agent != "Amy" {
		t.Errorf("unexpected top hit: %+v", hits[0])
	}

	all, err := a.Search(ctx, "", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d hits overall, want 3", len(all))
	}
}
