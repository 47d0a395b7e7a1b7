package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"askpdf/index"
	"askpdf/ragerr"
	"askpdf/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
)

// PostgresStore keeps indexes in two tables with chunk vectors in a pgvector
// column. Save replaces a handle inside one transaction and Load reads inside
// a repeatable-read snapshot, so readers never see a half-written index.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	// The vector type must exist before connections can register it.
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, err
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger.Named("postgres"),
	}, nil
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS rag_indexes (
		handle          TEXT PRIMARY KEY,
		build_id        UUID NOT NULL,
		embedding_model TEXT NOT NULL,
		dimension       INT NOT NULL,
		metadata        JSONB NOT NULL,
		created_at      TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rag_chunks (
		handle    TEXT NOT NULL REFERENCES rag_indexes(handle) ON DELETE CASCADE,
		seq       INT NOT NULL,
		doc_id    UUID NOT NULL,
		document  TEXT NOT NULL,
		page      INT NOT NULL,
		position  INT NOT NULL,
		content   TEXT NOT NULL,
		embedding vector NOT NULL,
		PRIMARY KEY (handle, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_rag_chunks_doc_id ON rag_chunks(doc_id);
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createRagTables(ctx)
}

func (p *PostgresStore) Save(ctx context.Context, ix *index.Index) error {
	const op = "store.postgres.save"

	meta, err := json.Marshal(ix.Meta)
	if err != nil {
		return ragerr.Permanent(ragerr.KindStorage, op, err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return ragerr.Transient(ragerr.KindStorage, op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM rag_indexes WHERE handle = $1", ix.Handle); err != nil {
		return ragerr.Transient(ragerr.KindStorage, op, fmt.Errorf("delete old index: %w", err))
	}

	_, err = tx.Exec(ctx, `INSERT INTO rag_indexes (handle, build_id, embedding_model, dimension, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ix.Handle, ix.Meta.BuildID, ix.Meta.EmbeddingModel, ix.Meta.Dimension, meta, ix.Meta.CreatedAt)
	if err != nil {
		return ragerr.Transient(ragerr.KindStorage, op, fmt.Errorf("insert index: %w", err))
	}

	rows := pgx.CopyFromSlice(len(ix.Entries), func(i int) ([]any, error) {
		e := ix.Entries[i]
		return []any{
			ix.Handle, e.Chunk.ID, e.Chunk.Source.DocumentID, e.Chunk.Source.Document,
			e.Chunk.Source.Page, e.Chunk.Source.Position, e.Chunk.Text, pgvector.NewVector(e.Vector),
		}, nil
	})
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"rag_chunks"},
		[]string{"handle", "seq", "doc_id", "document", "page", "position", "content", "embedding"}, rows)
	if err != nil {
		return ragerr.Transient(ragerr.KindStorage, op, fmt.Errorf("copy chunks: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return ragerr.Transient(ragerr.KindStorage, op, err)
	}

	p.logger.Info("index saved", zap.String("handle", ix.Handle), zap.Int64("chunks", n))
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, handle string) (*index.Index, error) {
	const op = "store.postgres.load"

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, ragerr.Transient(ragerr.KindStorage, op, err)
	}
	defer tx.Rollback(ctx)

	ix := &index.Index{Handle: handle}
	var meta []byte
	err = tx.QueryRow(ctx, "SELECT metadata FROM rag_indexes WHERE handle = $1", handle).Scan(&meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ragerr.New(ragerr.KindIndexNotFound, op, fmt.Sprintf("no index at %q", handle))
	}
	if err != nil {
		return nil, ragerr.Transient(ragerr.KindStorage, op, err)
	}
	if err := json.Unmarshal(meta, &ix.Meta); err != nil {
		return nil, ragerr.Permanent(ragerr.KindStorage, op, fmt.Errorf("decode metadata: %w", err))
	}

	rows, err := tx.Query(ctx, `SELECT seq, doc_id, document, page, position, content, embedding
		FROM rag_chunks WHERE handle = $1 ORDER BY seq`, handle)
	if err != nil {
		return nil, ragerr.Transient(ragerr.KindStorage, op, err)
	}
	defer rows.Close()

	ix.Entries = make([]index.Entry, 0, ix.Meta.ChunkCount)
	for rows.Next() {
		var (
			c     types.Chunk
			docID uuid.UUID
			vec   pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &docID, &c.Source.Document, &c.Source.Page, &c.Source.Position, &c.Text, &vec); err != nil {
			return nil, ragerr.Transient(ragerr.KindStorage, op, err)
		}
		c.Source.DocumentID = docID
		ix.Entries = append(ix.Entries, index.Entry{Chunk: c, Vector: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Transient(ragerr.KindStorage, op, err)
	}
	return ix, nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
