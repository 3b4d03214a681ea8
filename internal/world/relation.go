package world

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// RelationType categorizes the relationship between two residents.
type RelationType string

const (
	RelationAcquaintance RelationType = "acquaintance"
	RelationFriend       RelationType = "friend"
	RelationFamily       RelationType = "family"
)

// friendThreshold is the strength at which acquaintances become friends.
const friendThreshold = 0.6

// Relation is a directed social tie between two residents.
type Relation struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Type      RelationType `json:"type"`
	Strength  float64      `json:"strength"` // 0-1
	History   []string     `json:"history"`  // conversation summaries
	UpdatedAt time.Time    `json:"updated_at"`
}

// RelationGraph stores who has talked with whom in Neo4j.
type RelationGraph struct {
	driver    neo4j.DriverWithContext
	decayRate float64 // strength decay per tick, e.g. 0.001
	boost     float64 // strength gained per conversation
	logger    *zap.Logger
}

// NewRelationGraph creates a relation graph backed by Neo4j.
func NewRelationGraph(driver neo4j.DriverWithContext, decayRate, boost float64, logger *zap.Logger) *RelationGraph {
	if boost <= 0 {
		boost = 0.1
	}
	return &RelationGraph{
		driver:    driver,
		decayRate: decayRate,
		boost:     boost,
		logger:    logger,
	}
}

// Connect opens a Neo4j driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connect %s: %w", uri, err)
	}
	return driver, nil
}

// RecordConversation strengthens the tie in both directions and appends the
// summary to each side's history. Ties are created on first contact.
func (g *RelationGraph) RecordConversation(ctx context.Context, a, b, summary string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, pair := range [][2]string{{a, b}, {b, a}} {
			_, err := tx.Run(ctx,
				`MERGE (x:Resident {name: $from})
				 MERGE (y:Resident {name: $to})
				 MERGE (x)-[r:RELATES_TO]->(y)
				 ON CREATE SET r.type = $type, r.strength = 0.0, r.history = []
				 SET r.strength = CASE WHEN r.strength + $boost > 1.0 THEN 1.0 ELSE r.strength + $boost END,
				     r.history = r.history + $summary,
				     r.updated_at = datetime()
				 SET r.type = CASE WHEN r.type = $type AND r.strength >= $friend THEN $friendType ELSE r.type END`,
				map[string]any{
					"from":       pair[0],
					"to":         pair[1],
					"type":       string(RelationAcquaintance),
					"friendType": string(RelationFriend),
					"friend":     friendThreshold,
					"boost":      g.boost,
					"summary":    summary,
				})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("record conversation %s/%s: %w", a, b, err)
	}
	return nil
}

// Relations returns all outgoing ties of a resident, strongest first.
func (g *RelationGraph) Relations(ctx context.Context, name string) ([]*Relation, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Resident {name: $name})-[r:RELATES_TO]->(b:Resident)
		 RETURN b.name AS to, r.type AS type, r.strength AS strength, r.history AS history
		 ORDER BY r.strength DESC`,
		map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("get relations: %w", err)
	}

	var relations []*Relation
	for result.Next(ctx) {
		rec := result.Record()
		to, _ := rec.Get("to")
		relType, _ := rec.Get("type")
		strength, _ := rec.Get("strength")
		history, _ := rec.Get("history")

		var hist []string
		if h, ok := history.([]any); ok {
			for _, v := range h {
				if s, ok := v.(string); ok {
					hist = append(hist, s)
				}
			}
		}
		s, _ := strength.(float64)
		toName, _ := to.(string)
		typ, _ := relType.(string)

		relations = append(relations, &Relation{
			From:     name,
			To:       toName,
			Type:     RelationType(typ),
			Strength: s,
			History:  hist,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read relations: %w", err)
	}
	return relations, nil
}

// OnTick implements ClockListener. Decays all relationship strengths over time.
func (g *RelationGraph) OnTick(worldTime time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH ()-[r:RELATES_TO]->()
		 WHERE r.strength > 0
		 SET r.strength = CASE WHEN r.strength - $decay < 0 THEN 0 ELSE r.strength - $decay END`,
		map[string]any{"decay": g.decayRate})
	if err != nil {
		g.logger.Warn("relation decay tick failed", zap.Error(err))
	}
}
