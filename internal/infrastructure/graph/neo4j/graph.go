package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/reglens/reglens/internal/core/domain"
)

// Graph resolves the structural neighborhood of a chunk from the citation
// graph: nodes are chunks, edges are IN_SECTION (containment) and REFERENCES
// (parsed citations). The graph is maintained by the ingestion pipeline;
// the engine only reads it.
type Graph struct {
	driver neo4j.DriverWithContext
}

func New(ctx context.Context, uri, user, password string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	return &Graph{driver: driver}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

func (g *Graph) ParentSection(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	records, err := g.readQuery(ctx, `
MATCH (c:Chunk {id: $id})-[:IN_SECTION]->(s:Chunk)
RETURN s.id AS id, s.document_id AS document_id, s.text AS text, s.type AS type,
       s.position AS position, s.effective_date AS effective_date
LIMIT 1`, map[string]any{"id": chunkID})
	if err != nil {
		return nil, fmt.Errorf("parent section %s: %w", chunkID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	chunk := chunkFromValues(records[0])
	return &chunk, nil
}

func (g *Graph) SiblingDefinitions(ctx context.Context, chunkID string, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		limit = 4
	}
	records, err := g.readQuery(ctx, `
MATCH (c:Chunk {id: $id})-[:IN_SECTION]->(s:Chunk)<-[:IN_SECTION]-(sib:Chunk {type: 'definition'})
WHERE sib.id <> $id
RETURN sib.id AS id, sib.document_id AS document_id, sib.text AS text, sib.type AS type,
       sib.position AS position, sib.effective_date AS effective_date
ORDER BY sib.position ASC
LIMIT $limit`, map[string]any{"id": chunkID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("sibling definitions %s: %w", chunkID, err)
	}
	return chunksFromRecords(records), nil
}

func (g *Graph) ReferencedChunks(ctx context.Context, chunkID string, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		limit = 4
	}
	records, err := g.readQuery(ctx, `
MATCH (c:Chunk {id: $id})-[:REFERENCES]->(t:Chunk)
RETURN t.id AS id, t.document_id AS document_id, t.text AS text, t.type AS type,
       t.position AS position, t.effective_date AS effective_date
ORDER BY t.id ASC
LIMIT $limit`, map[string]any{"id": chunkID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("referenced chunks %s: %w", chunkID, err)
	}
	return chunksFromRecords(records), nil
}

func (g *Graph) readQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() {
		_ = session.Close(ctx)
	}()

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for result.Next(ctx) {
		record := result.Record()
		values := make(map[string]any, len(record.Keys))
		for _, key := range record.Keys {
			if v, ok := record.Get(key); ok {
				values[key] = v
			}
		}
		out = append(out, values)
	}
	return out, result.Err()
}

func chunksFromRecords(records []map[string]any) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(records))
	for _, values := range records {
		out = append(out, chunkFromValues(values))
	}
	return out
}

// chunkFromValues maps a record's aliased properties onto a read-only chunk.
// Missing or mistyped properties zero out rather than fail: the graph is an
// enrichment source, not a system of record.
func chunkFromValues(values map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		ID:         stringValue(values["id"]),
		DocumentID: stringValue(values["document_id"]),
		Text:       stringValue(values["text"]),
		Type:       domain.ChunkType(stringValue(values["type"])),
	}
	if position, ok := values["position"].(int64); ok {
		chunk.Position = int(position)
	}
	switch v := values["effective_date"].(type) {
	case time.Time:
		chunk.EffectiveDate = v
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			chunk.EffectiveDate = parsed
		}
	}
	return chunk
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
