// Package memory holds an agent's memory stream: timestamped observations
// with an importance ranking and an optional embedding.
package memory

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/smallville/internal/errs"
)

const (
	MinImportance = 1
	MaxImportance = 10
)

// ErrMemoryNotFound is returned when an ID does not name a stored memory.
var ErrMemoryNotFound = errors.New("memory not found")

// Memory is one observation in an agent's stream.
type Memory struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Importance  int       `json:"importance"` // 0 until ranked
	Embedding   []float32 `json:"-"`
}

// Ranked reports whether the memory has a finalized importance.
func (m Memory) Ranked() bool { return m.Importance >= MinImportance }

// Query describes what a caller wants to remember.
type Query struct {
	Text      string
	Embedding []float32
}

// Stream is an append-only memory store. All methods are safe for
// concurrent use, though during a tick a stream is only touched by the
// goroutine that owns its agent.
type Stream struct {
	cfg      ScoreConfig
	memories []Memory
	index    map[string]int
	pending  []string // ids handed out by the last UnweightedMemories call
	mu       sync.RWMutex
}

// NewStream creates an empty stream scored with cfg.
func NewStream(cfg ScoreConfig) *Stream {
	if cfg.HalfLife == 0 {
		cfg = DefaultScoreConfig()
	}
	return &Stream{
		cfg:   cfg,
		index: make(map[string]int),
	}
}

// Add appends m as unranked. A missing ID or timestamp is filled in.
func (s *Stream) Add(m Memory) Memory {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Importance = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[m.ID] = len(s.memories)
	s.memories = append(s.memories, m)
	return m
}

// Observe is shorthand for adding a description at a point in time.
func (s *Stream) Observe(description string, at time.Time) Memory {
	return s.Add(Memory{Description: description, Timestamp: at})
}

// Restore loads persisted memories verbatim, keeping their importance.
func (s *Stream) Restore(ms []Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		if i, ok := s.index[m.ID]; ok {
			s.memories[i] = m
			continue
		}
		s.index[m.ID] = len(s.memories)
		s.memories = append(s.memories, m)
	}
}

// UnweightedMemories returns the memories that still lack an importance, in
// insertion order, and makes them the pending ranking batch.
func (s *Stream) UnweightedMemories() []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Memory
	s.pending = s.pending[:0]
	for _, m := range s.memories {
		if !m.Ranked() {
			out = append(out, m)
			s.pending = append(s.pending, m.ID)
		}
	}
	return out
}

// ApplyRanking assigns scores positionally to the pending batch. The batch
// stays pending, so applying the same scores again leaves the stream as it
// was after the first call.
func (s *Stream) ApplyRanking(scores []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(scores) != len(s.pending) {
		return errs.DomainInvariant("apply ranking",
			"%d scores for %d unweighted memories", len(scores), len(s.pending))
	}
	for i, v := range scores {
		if v < MinImportance || v > MaxImportance {
			return errs.DomainInvariant("apply ranking",
				"score %d at position %d outside %d-%d", v, i, MinImportance, MaxImportance)
		}
	}
	for i, id := range s.pending {
		s.memories[s.index[id]].Importance = scores[i]
	}
	return nil
}

// RelevantTo yields memories from most to least relevant to q at time now.
// Scoring happens when iteration starts and never mutates the stream.
func (s *Stream) RelevantTo(q Query, now time.Time) iter.Seq[Memory] {
	return func(yield func(Memory) bool) {
		s.mu.RLock()
		snapshot := slices.Clone(s.memories)
		cfg := s.cfg
		s.mu.RUnlock()

		keywords := tokenize(q.Text)
		type scored struct {
			m     Memory
			score float64
		}
		ranked := make([]scored, len(snapshot))
		for i, m := range snapshot {
			ranked[i] = scored{m: m, score: cfg.score(m, q, keywords, now)}
		}
		slices.SortStableFunc(ranked, func(a, b scored) int {
			switch {
			case a.score > b.score:
				return -1
			case a.score < b.score:
				return 1
			}
			return 0
		})
		for _, r := range ranked {
			if !yield(r.m) {
				return
			}
		}
	}
}

// Top collects at most n memories from RelevantTo.
func (s *Stream) Top(q Query, now time.Time, n int) []Memory {
	out := make([]Memory, 0, n)
	if n <= 0 {
		return out
	}
	for m := range s.RelevantTo(q, now) {
		out = append(out, m)
		if len(out) == n {
			break
		}
	}
	return out
}

// MissingEmbeddings returns memories without an embedding.
func (s *Stream) MissingEmbeddings() []Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Memory
	for _, m := range s.memories {
		if len(m.Embedding) == 0 {
			out = append(out, m)
		}
	}
	return out
}

// SetEmbedding attaches a vector to the memory with the given ID.
func (s *Stream) SetEmbedding(id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("set embedding %s: %w", id, ErrMemoryNotFound)
	}
	s.memories[i].Embedding = slices.Clone(vec)
	return nil
}

// Get returns the memory with the given ID.
func (s *Stream) Get(id string) (Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Memory{}, false
	}
	return s.memories[i], true
}

// All returns every memory in insertion order.
func (s *Stream) All() []Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.memories)
}

// Len returns the number of stored memories.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}
