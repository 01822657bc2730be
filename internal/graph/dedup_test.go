package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner routes reads by query shape so multi-step flows can be
// exercised without a database.
type scriptedRunner struct {
	writes []call
	groups []map[string]any
	edges  map[string][]map[string]any // "out:<id>" / "in:<id>" -> rows
}

func (f *scriptedRunner) write(_ context.Context, query string, params map[string]any) error {
	f.writes = append(f.writes, call{query: query, params: params})
	return nil
}

func (f *scriptedRunner) writeRows(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	f.writes = append(f.writes, call{query: query, params: params})
	return nil, nil
}

func (f *scriptedRunner) read(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	switch {
	case strings.Contains(query, "size(nodes) > 1"):
		return f.groups, nil
	case strings.Contains(query, "(l)-[e]->(t)"):
		return f.edges["out:"+params["id"].(string)], nil
	case strings.Contains(query, "(t)-[e]->(l)"):
		return f.edges["in:"+params["id"].(string)], nil
	}
	return nil, nil
}

func TestDedupConceptsKeepsLongestDefinition(t *testing.T) {
	r := &scriptedRunner{
		groups: []map[string]any{{
			"name": "behavior cloning",
			"nodes": []any{
				map[string]any{"id": "n1", "def": "short"},
				map[string]any{"id": "n2", "def": "a much longer definition that wins"},
			},
		}},
		edges: map[string][]map[string]any{
			"out:n1": {
				{"rel": "RELATES_TO", "target": "n3", "props": map[string]any{"strength": 0.5}},
				// Edge pointing at the winner would become a self-loop.
				{"rel": "RELATES_TO", "target": "n2", "props": map[string]any{}},
			},
			"in:n1": {
				{"rel": "CONTAINS", "target": "c9", "props": map[string]any{"importance": "core"}},
			},
		},
	}
	store := &Store{r: r}

	removed, err := store.DedupConcepts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// One redirected outgoing edge, one redirected incoming edge, one delete.
	require.Len(t, r.writes, 3)
	assert.Contains(t, r.writes[0].query, "(w)-[e:RELATES_TO]->(o)")
	assert.Equal(t, "n2", r.writes[0].params["winner"])
	assert.Equal(t, "n3", r.writes[0].params["other"])
	assert.Contains(t, r.writes[1].query, "(o)-[e:CONTAINS]->(w)")
	assert.Equal(t, "c9", r.writes[1].params["other"])
	assert.Contains(t, r.writes[2].query, "DETACH DELETE")
	assert.Equal(t, "n1", r.writes[2].params["id"])
}

func TestDedupConceptsNoDuplicates(t *testing.T) {
	r := &scriptedRunner{}
	store := &Store{r: r}

	removed, err := store.DedupConcepts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Empty(t, r.writes)
}
