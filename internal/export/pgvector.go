package export

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DefaultPgvectorTable is used when no table is configured.
const DefaultPgvectorTable = "kc_chunks"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PgvectorSink writes chunks to a Postgres table with a pgvector column.
type PgvectorSink struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgvectorSink connects to dsn and checks the connection.
func NewPgvectorSink(ctx context.Context, dsn, table string) (*PgvectorSink, error) {
	if table == "" {
		table = DefaultPgvectorTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PgvectorSink{pool: pool, table: table}, nil
}

func (s *PgvectorSink) Target() string { return s.table }

func (s *PgvectorSink) Close() { s.pool.Close() }

func (s *PgvectorSink) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureTable creates the extension, table and file index when missing.
func (s *PgvectorSink) EnsureTable(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              TEXT PRIMARY KEY,
			file_id         TEXT NOT NULL,
			chunk_index     INTEGER NOT NULL,
			source_file     TEXT NOT NULL,
			path            TEXT NOT NULL,
			content         TEXT NOT NULL,
			categories      TEXT[] NOT NULL DEFAULT '{}',
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			analysis_type   TEXT NOT NULL DEFAULT '',
			summary         TEXT NOT NULL DEFAULT '',
			embedding       vector(%d) NOT NULL,
			exported_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.ident(), dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (file_id)`,
			pgx.Identifier{s.table + "_file_id_idx"}.Sanitize(), s.ident()),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile replaces every stored chunk of fileID with chunks in one batch.
func (s *PgvectorSink) WriteFile(ctx context.Context, fileID string, chunks []VectorChunk) error {
	insert := fmt.Sprintf(`INSERT INTO %s
		(id, file_id, chunk_index, source_file, path, content, categories, relevance_score, analysis_type, summary, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.ident())

	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1`, s.ident()), fileID)
	for _, c := range chunks {
		batch.Queue(insert,
			c.ID,
			c.FileID,
			c.ChunkIndex,
			c.Entry.Name,
			c.Entry.Path,
			c.Content,
			c.Entry.Categories,
			c.Entry.RelevanceScore,
			c.Entry.AnalysisType,
			c.Entry.Summary,
			pgvector.NewVector(c.Embedding),
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
