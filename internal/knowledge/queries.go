package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// SearchChunksParams are the inputs to a vector search.
type SearchChunksParams struct {
	QueryEmbedding []float32
	Scope          string // empty = unfiltered
	ResultLimit    int
}

// UpsertChunkParams are the inputs to an upsert.
type UpsertChunkParams struct {
	ID        string
	Content   string
	SourceID  string
	Scope     string
	Embedding []float32
	Metadata  map[string]string
}

// ChunkRow is one search result row.
type ChunkRow struct {
	ID        string
	Content   string
	SourceID  string
	Scope     string
	Metadata  []byte
	CreatedAt time.Time
	Distance  float64 // cosine distance, lower = closer
}

func (r ChunkRow) toChunk() Chunk {
	var metadata map[string]string
	if len(r.Metadata) > 0 {
		// Best effort: malformed metadata degrades to nil, search still works.
		_ = json.Unmarshal(r.Metadata, &metadata)
	}
	return Chunk{
		ID:       r.ID,
		Text:     r.Content,
		SourceID: r.SourceID,
		Scope:    r.Scope,
		Score:    float32(1 - r.Distance),
		Metadata: metadata,
		CreatedAt: r.CreatedAt,
	}
}

// PGQuerier implements Querier on a pgx connection pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a PGQuerier.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

// searchChunksSQL orders by cosine distance with seq as tie-break so equally
// distant chunks come back in source insertion order.
const searchChunksSQL = `
SELECT id, content, source_id, scope, metadata, created_at,
       embedding <=> $1 AS distance
FROM chunks
WHERE ($2 = '' OR scope = $2)
ORDER BY distance ASC, seq ASC
LIMIT $3`

func (q *PGQuerier) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]ChunkRow, error) {
	vec := pgvector.NewVector(arg.QueryEmbedding)
	rows, err := q.pool.Query(ctx, searchChunksSQL, vec, arg.Scope, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var row ChunkRow
		if err := rows.Scan(&row.ID, &row.Content, &row.SourceID, &row.Scope,
			&row.Metadata, &row.CreatedAt, &row.Distance); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return out, nil
}

const upsertChunkSQL = `
INSERT INTO chunks (id, content, source_id, scope, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    content = EXCLUDED.content,
    source_id = EXCLUDED.source_id,
    scope = EXCLUDED.scope,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

func (q *PGQuerier) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	metadata, err := json.Marshal(arg.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	vec := pgvector.NewVector(arg.Embedding)
	if _, err := q.pool.Exec(ctx, upsertChunkSQL,
		arg.ID, arg.Content, arg.SourceID, arg.Scope, vec, metadata); err != nil {
		return fmt.Errorf("upserting chunk: %w", err)
	}
	return nil
}

func (q *PGQuerier) CountChunks(ctx context.Context, scope string) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE ($1 = '' OR scope = $1)`, scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

func (q *PGQuerier) DeleteChunksBySource(ctx context.Context, sourceID string) error {
	if _, err := q.pool.Exec(ctx,
		`DELETE FROM chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

var _ Querier = (*PGQuerier)(nil)
