package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/smallville/internal/errs"
)

var t0 = time.Date(2023, 2, 13, 9, 0, 0, 0, time.UTC)

func newTestStream(descriptions ...string) *Stream {
	s := NewStream(DefaultScoreConfig())
	for i, d := range descriptions {
		s.Observe(d, t0.Add(time.Duration(i)*time.Minute))
	}
	return s
}

func TestAddIsUnranked(t *testing.T) {
	s := NewStream(DefaultScoreConfig())
	m := s.Add(Memory{Description: "John is brewing coffee", Importance: 7})
	if m.ID == "" {
		t.Fatal("expected generated id")
	}
	if m.Importance != 0 {
		t.Fatalf("got importance %d, want 0", m.Importance)
	}
	if got := len(s.UnweightedMemories()); got != 1 {
		t.Fatalf("got %d unweighted, want 1", got)
	}
}

func TestApplyRankingLengthMismatch(t *testing.T) {
	s := newTestStream("a walk in the park", "lunch at the cafe", "reading a book")
	if got := len(s.UnweightedMemories()); got != 3 {
		t.Fatalf("got %d unweighted, want 3", got)
	}
	err := s.ApplyRanking([]int{1, 2})
	if !errors.Is(err, errs.ErrDomainInvariant) {
		t.Fatalf("got %v, want DomainInvariantError", err)
	}
	for _, m := range s.All() {
		if m.Ranked() {
			t.Fatalf("memory %q ranked after failed apply", m.Description)
		}
	}
}

func TestApplyRankingOutOfRange(t *testing.T) {
	s := newTestStream("a", "b")
	s.UnweightedMemories()
	if err := s.ApplyRanking([]int{3, 11}); !errors.Is(err, errs.ErrDomainInvariant) {
		t.Fatalf("got %v, want DomainInvariantError", err)
	}
}

func TestApplyRankingIdempotent(t *testing.T) {
	s := newTestStream("first", "second", "third")
	s.UnweightedMemories()
	scores := []int{2, 9, 5}

	if err := s.ApplyRanking(scores); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := s.All()
	if err := s.ApplyRanking(scores); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second := s.All()

	for i := range first {
		if first[i].Importance != second[i].Importance {
			t.Fatalf("memory %d: %d then %d", i, first[i].Importance, second[i].Importance)
		}
		if first[i].Importance != scores[i] {
			t.Fatalf("memory %d: got %d, want %d", i, first[i].Importance, scores[i])
		}
	}
	if got := len(s.UnweightedMemories()); got != 0 {
		t.Fatalf("got %d unweighted after ranking, want 0", got)
	}
}

func TestApplyRankingOnlyTouchesPendingBatch(t *testing.T) {
	s := newTestStream("old")
	s.UnweightedMemories()
	s.Observe("new", t0.Add(time.Hour))
	if err := s.ApplyRanking([]int{4}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	all := s.All()
	if all[0].Importance != 4 || all[1].Importance != 0 {
		t.Fatalf("got importances %d,%d want 4,0", all[0].Importance, all[1].Importance)
	}
}

func TestRelevantToOrdersByKeywordAndIsPure(t *testing.T) {
	s := newTestStream(
		"Mary watered the garden",
		"John is making coffee in the kitchen",
		"The library opens at noon",
	)
	before := s.All()

	var got []string
	for m := range s.RelevantTo(Query{Text: "coffee kitchen"}, t0.Add(10*time.Minute)) {
		got = append(got, m.Description)
	}
	if len(got) != 3 {
		t.Fatalf("got %d memories, want 3", len(got))
	}
	if got[0] != "John is making coffee in the kitchen" {
		t.Fatalf("got %q first", got[0])
	}

	after := s.All()
	for i := range before {
		if before[i].Importance != after[i].Importance || before[i].Description != after[i].Description {
			t.Fatal("RelevantTo mutated the stream")
		}
	}
}

func TestRelevantToPrefersEmbeddings(t *testing.T) {
	s := newTestStream("alpha", "beta")
	all := s.All()
	_ = s.SetEmbedding(all[0].ID, []float32{0, 1})
	_ = s.SetEmbedding(all[1].ID, []float32{1, 0})

	top := s.Top(Query{Text: "alpha", Embedding: []float32{1, 0}}, t0, 1)
	if len(top) != 1 || top[0].Description != "beta" {
		t.Fatalf("got %+v, want beta first by cosine", top)
	}
}

func TestRelevantToStopsEarly(t *testing.T) {
	s := newTestStream("a1", "a2", "a3", "a4")
	n := 0
	for range s.RelevantTo(Query{Text: "a"}, t0) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("iterated %d, want 2", n)
	}
}

func TestRecencyDecay(t *testing.T) {
	hl := time.Hour
	if got := recency(t0, t0.Add(hl), hl); got < 0.49 || got > 0.51 {
		t.Fatalf("got %f after one half-life, want 0.5", got)
	}
	if got := recency(t0.Add(time.Minute), t0, hl); got != 1 {
		t.Fatalf("got %f for future memory, want 1", got)
	}
}

func TestSetEmbeddingUnknown(t *testing.T) {
	s := NewStream(DefaultScoreConfig())
	err := s.SetEmbedding("nope", []float32{1})
	if !errors.Is(err, ErrMemoryNotFound) {
		t.Fatalf("got %v, want ErrMemoryNotFound", err)
	}
	if err.Error() != "set embedding nope: memory not found" {
		t.Errorf("message %q", err)
	}
}
