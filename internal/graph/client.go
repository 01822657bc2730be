// Package graph backs ContentNode, ConceptNode, and NoteNode in Neo4j.
// All write operations are idempotent through MERGE semantics, so the
// enrichment orchestrator can replay them safely on reprocess.
package graph

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/scrypster/recall/internal/config"
)

// Client wraps the Neo4j driver with the configured database name.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewClient connects to Neo4j and verifies connectivity. An empty URI returns
// (nil, nil): the graph store is optional and callers treat a nil client as
// disabled.
func NewClient(cfg config.GraphConfig) (*Client, error) {
	if cfg.URI == "" {
		return nil, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	return &Client{driver: driver, database: cfg.Database}, nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

// schemaStatements are applied on first connection. Vector indexes carry the
// embedding dimensionality of text-embedding-3-small (1536).
var schemaStatements = []string{
	`CREATE CONSTRAINT content_id_unique IF NOT EXISTS FOR (c:Content) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT concept_canonical_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.canonical_name IS UNIQUE`,
	`CREATE INDEX content_type_idx IF NOT EXISTS FOR (c:Content) ON (c.type)`,
	`CREATE INDEX content_created_idx IF NOT EXISTS FOR (c:Content) ON (c.created_at)`,
	`CREATE INDEX note_id_idx IF NOT EXISTS FOR (n:Note) ON (n.id)`,
	`CREATE INDEX note_path_idx IF NOT EXISTS FOR (n:Note) ON (n.file_path)`,
	`CREATE VECTOR INDEX content_embedding_idx IF NOT EXISTS
	 FOR (c:Content) ON (c.embedding)
	 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1536, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
	`CREATE VECTOR INDEX concept_embedding_idx IF NOT EXISTS
	 FOR (c:Concept) ON (c.embedding)
	 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1536, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
}

// EnsureSchema creates constraints and indexes. Failures are logged and
// skipped; restricted users may lack schema privileges.
func (c *Client) EnsureSchema(ctx context.Context) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			log.Printf("graph: schema statement failed (continuing): %v", err)
			continue
		}
		if _, err := res.Consume(ctx); err != nil {
			log.Printf("graph: schema statement failed (continuing): %v", err)
		}
	}
}

// write runs a cypher statement in a write transaction and discards rows.
func (c *Client) write(ctx context.Context, query string, params map[string]any) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// writeRows runs a cypher statement in a write transaction and returns each
// record as a key/value map. MERGE queries that report back (RETURN count)
// must go through here; a read transaction rejects writes.
func (c *Client) writeRows(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var out []map[string]any
		for res.Next(ctx) {
			out = append(out, res.Record().AsMap())
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return rows.([]map[string]any), nil
}

// read runs a cypher statement in a read transaction and returns each record
// as a key/value map.
func (c *Client) read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var out []map[string]any
		for res.Next(ctx) {
			out = append(out, res.Record().AsMap())
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return rows.([]map[string]any), nil
}
