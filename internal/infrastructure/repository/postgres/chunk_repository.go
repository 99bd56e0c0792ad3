package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/reglens/reglens/internal/core/domain"
)

// ChunkRepository reads regulatory chunks and their owning documents. The
// engine never writes this schema; the ingestion pipeline owns it.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent api startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	authority TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	status TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	effective_date TIMESTAMPTZ,
	language TEXT
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	position INTEGER NOT NULL,
	chunk_type TEXT NOT NULL,
	text TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	section_path JSONB NOT NULL DEFAULT '[]'::jsonb,
	cross_refs JSONB NOT NULL DEFAULT '[]'::jsonb,
	concepts JSONB NOT NULL DEFAULT '[]'::jsonb,
	effective_date TIMESTAMPTZ,
	language TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_effective_date ON chunks(effective_date DESC);
CREATE INDEX IF NOT EXISTS idx_documents_authority ON documents(authority);
CREATE INDEX IF NOT EXISTS idx_documents_jurisdiction ON documents(jurisdiction);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const chunkColumns = `
c.id, c.document_id, c.position, c.chunk_type, c.text, c.token_count,
c.section_path, c.cross_refs, c.concepts, c.effective_date, c.language,
d.authority, d.doc_type, d.jurisdiction`

// GetChunksByIDs hydrates chunks for the given ids in one round trip. Ids
// with no row are silently absent from the result; callers decide whether a
// missing chunk matters.
func (r *ChunkRepository) GetChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
SELECT %s
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.id IN (%s)
`, chunkColumns, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks by ids: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// QueryByFilter matches chunks on structured attributes only. Withdrawn and
// superseded documents never surface here.
func (r *ChunkRepository) QueryByFilter(ctx context.Context, filters domain.Filters, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		clauses = []string{"d.status = 'published'"}
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Jurisdiction != "" {
		clauses = append(clauses, "d.jurisdiction = "+arg(strings.ToUpper(filters.Jurisdiction)))
	}
	if len(filters.Authorities) > 0 {
		placeholders := make([]string, len(filters.Authorities))
		for i, authority := range filters.Authorities {
			placeholders[i] = arg(authority)
		}
		clauses = append(clauses, "d.authority IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(filters.DocumentTypes) > 0 {
		placeholders := make([]string, len(filters.DocumentTypes))
		for i, docType := range filters.DocumentTypes {
			placeholders[i] = arg(string(docType))
		}
		clauses = append(clauses, "d.doc_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if !filters.Dates.From.IsZero() {
		clauses = append(clauses, "c.effective_date >= "+arg(filters.Dates.From.UTC()))
	}
	if !filters.Dates.To.IsZero() {
		clauses = append(clauses, "c.effective_date <= "+arg(filters.Dates.To.UTC()))
	}

	query := fmt.Sprintf(`
SELECT %s
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE %s
ORDER BY c.effective_date DESC NULLS LAST, c.id ASC
LIMIT %s
`, chunkColumns, strings.Join(clauses, " AND "), arg(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks by filter: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for rows.Next() {
		var (
			chunk         domain.Chunk
			chunkType     string
			docType       string
			sectionRaw    []byte
			crossRefsRaw  []byte
			conceptsRaw   []byte
			effectiveDate sql.NullTime
			language      sql.NullString
		)
		err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.Position, &chunkType, &chunk.Text, &chunk.TokenCount,
			&sectionRaw, &crossRefsRaw, &conceptsRaw, &effectiveDate, &language,
			&chunk.Authority, &docType, &chunk.Jurisdiction,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}

		chunk.Type = domain.ChunkType(chunkType)
		chunk.DocumentType = domain.DocumentType(docType)
		if effectiveDate.Valid {
			chunk.EffectiveDate = effectiveDate.Time
		}
		if language.Valid {
			chunk.Language = language.String
		}
		if err := json.Unmarshal(sectionRaw, &chunk.SectionPath); err != nil {
			return nil, fmt.Errorf("unmarshal section path: %w", err)
		}
		if err := json.Unmarshal(crossRefsRaw, &chunk.CrossRefs); err != nil {
			return nil, fmt.Errorf("unmarshal cross refs: %w", err)
		}
		if err := json.Unmarshal(conceptsRaw, &chunk.Concepts); err != nil {
			return nil, fmt.Errorf("unmarshal concepts: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
