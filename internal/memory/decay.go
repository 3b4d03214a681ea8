package memory

import (
	"math"
	"time"
)

// ScoreConfig weighs the three retrieval signals.
type ScoreConfig struct {
	HalfLife         time.Duration // time for recency to halve (default 6h of world time)
	RecencyWeight    float64
	ImportanceWeight float64
	RelevanceWeight  float64
}

// DefaultScoreConfig returns equal weights and a six hour half-life.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		HalfLife:         6 * time.Hour,
		RecencyWeight:    1,
		ImportanceWeight: 1,
		RelevanceWeight:  1,
	}
}

// recency decays exponentially: 2^(-age/halfLife). Memories stamped in the
// future count as fresh.
func recency(ts, now time.Time, halfLife time.Duration) float64 {
	age := now.Sub(ts)
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// importance maps a 1-10 ranking onto [0,1]. Unranked memories score zero.
func importance(m Memory) float64 {
	if m.Importance <= 0 {
		return 0
	}
	return float64(m.Importance) / MaxImportance
}

func (c ScoreConfig) score(m Memory, q Query, keywords []string, now time.Time) float64 {
	rel, ok := cosineSimilarity(q.Embedding, m.Embedding)
	if !ok {
		rel = keywordSimilarity(keywords, m.Description)
	}
	return c.RecencyWeight*recency(m.Timestamp, now, c.HalfLife) +
		c.ImportanceWeight*importance(m) +
		c.RelevanceWeight*rel
}
