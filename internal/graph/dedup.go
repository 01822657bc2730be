package graph

import (
	"context"
	"fmt"
	"log"
)

// DedupConcepts is the administrative batch pass over concept nodes: groups
// by canonical name, keeps the node with the longest definition, redirects
// every other node's edges onto the winner (skipping self-loops; MERGE
// collapses duplicates), then deletes the losers. Returns the number of
// nodes removed.
//
// The normal write path MERGEs by canonical name, so duplicates only appear
// after imports that bypassed it or after constraint downtime.
func (s *Store) DedupConcepts(ctx context.Context) (int, error) {
	rows, err := s.r.read(ctx, `
		MATCH (c:Concept)
		WITH c.canonical_name AS name,
		     collect({id: elementId(c), def: coalesce(c.definition, '')}) AS nodes
		WHERE name IS NOT NULL AND size(nodes) > 1
		RETURN name, nodes`, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list duplicate concepts: %w", err)
	}

	removed := 0
	for _, row := range rows {
		name, _ := row["name"].(string)
		nodes, _ := row["nodes"].([]any)
		winner, losers := pickWinner(nodes)
		if winner == "" || len(losers) == 0 {
			continue
		}
		for _, loser := range losers {
			if err := s.redirectEdges(ctx, loser, winner); err != nil {
				log.Printf("graph: dedup of %q left node in place: %v", name, err)
				continue
			}
			if err := s.r.write(ctx, `
				MATCH (l:Concept) WHERE elementId(l) = $id
				DETACH DELETE l`, map[string]any{"id": loser}); err != nil {
				log.Printf("graph: failed to delete duplicate of %q: %v", name, err)
				continue
			}
			removed++
		}
		log.Printf("graph: deduplicated concept %q", name)
	}
	return removed, nil
}

// pickWinner chooses the node with the longest definition; ties go to the
// first seen.
func pickWinner(nodes []any) (winner string, losers []string) {
	bestLen := -1
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		def, _ := m["def"].(string)
		ids = append(ids, id)
		if len(def) > bestLen {
			bestLen = len(def)
			winner = id
		}
	}
	for _, id := range ids {
		if id != winner {
			losers = append(losers, id)
		}
	}
	return winner, losers
}

// redirectEdges moves each of the loser's relationships onto the winner,
// one edge type at a time since relationship types cannot be parameterized.
func (s *Store) redirectEdges(ctx context.Context, loser, winner string) error {
	outgoing, err := s.r.read(ctx, `
		MATCH (l) WHERE elementId(l) = $id
		MATCH (l)-[e]->(t)
		RETURN type(e) AS rel, elementId(t) AS target, properties(e) AS props`,
		map[string]any{"id": loser})
	if err != nil {
		return err
	}
	for _, edge := range outgoing {
		if err := s.copyEdge(ctx, edge, winner, true); err != nil {
			return err
		}
	}

	incoming, err := s.r.read(ctx, `
		MATCH (l) WHERE elementId(l) = $id
		MATCH (t)-[e]->(l)
		RETURN type(e) AS rel, elementId(t) AS target, properties(e) AS props`,
		map[string]any{"id": loser})
	if err != nil {
		return err
	}
	for _, edge := range incoming {
		if err := s.copyEdge(ctx, edge, winner, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) copyEdge(ctx context.Context, edge map[string]any, winner string, outgoing bool) error {
	relType, _ := edge["rel"].(string)
	other, _ := edge["target"].(string)
	props, _ := edge["props"].(map[string]any)

	rel, err := SanitizeRelType(relType)
	if err != nil {
		return err
	}
	if other == winner {
		// Would become a self-loop.
		return nil
	}

	pattern := "(w)-[e:%s]->(o)"
	if !outgoing {
		pattern = "(o)-[e:%s]->(w)"
	}
	query := fmt.Sprintf(`
		MATCH (w) WHERE elementId(w) = $winner
		MATCH (o) WHERE elementId(o) = $other
		MERGE `+pattern+`
		SET e += $props`, rel)
	return s.r.write(ctx, query, map[string]any{
		"winner": winner,
		"other":  other,
		"props":  props,
	})
}
