package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	Lists       int
	ConnTimeout time.Duration
}

// VectorStore is the pgvector backed index.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var _ types.VectorIndex = (*VectorStore)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.ConnString == "" {
		return nil, fmt.Errorf("%w: database connection string is required", types.ErrValidation)
	}
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.Lists == 0 {
		config.Lists = 100
	}
	if config.ConnTimeout == 0 {
		config.ConnTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

// checkDimensions compares the embedding column of an existing table with
// the configured size. CREATE TABLE IF NOT EXISTS keeps the old column type.
func (vs *VectorStore) checkDimensions(ctx context.Context) error {
	var dims int
	err := vs.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding' AND NOT attisdropped`,
		vs.config.TableName).Scan(&dims)
	if err != nil {
		return fmt.Errorf("failed to read embedding column: %w", err)
	}
	// A typmod of -1 is an unsized vector column.
	if dims > 0 && dims != vs.config.VectorDim {
		return &types.DimensionError{Expected: vs.config.VectorDim, Got: dims}
	}
	return nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			filename TEXT,
			file_type TEXT,
			embedding vector(%d)
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if err := vs.checkDimensions(ctx); err != nil {
		return err
	}

	createIndexes := []string{
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
			vs.config.TableName, vs.config.TableName, vs.config.Lists),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)",
			vs.config.TableName, vs.config.TableName),
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_type TEXT,
			size_bytes BIGINT,
			status TEXT NOT NULL,
			chunk_count INTEGER,
			word_count INTEGER,
			char_count INTEGER,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range createIndexes {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

func (vs *VectorStore) Name() string { return BackendPGVector }

func (vs *VectorStore) Dimensions() int { return vs.config.VectorDim }

// Documents returns a document store in the same database.
func (vs *VectorStore) Documents() *PGRegistry {
	return &PGRegistry{pool: vs.pool}
}

func (vs *VectorStore) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if err := types.CheckDimensions(vs.config.VectorDim, r.Vector); err != nil {
			return err
		}
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, ordinal, content, start_offset, end_offset, filename, file_type, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			start_offset = EXCLUDED.start_offset,
			end_offset = EXCLUDED.end_offset,
			filename = EXCLUDED.filename,
			file_type = EXCLUDED.file_type,
			embedding = EXCLUDED.embedding`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	for _, r := range records {
		c := r.Chunk
		batch.Queue(stmt, c.ID, c.DocumentID, c.Ordinal, c.Text, c.Start, c.End,
			c.Metadata.Filename, c.Metadata.FileType, pgvector.NewVector(r.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, vector []float32, topK int, filter models.Filter) ([]models.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := types.CheckDimensions(vs.config.VectorDim, vector); err != nil {
		return nil, err
	}

	// <=> is cosine distance in [0,2]
	query := fmt.Sprintf(`
		SELECT id, document_id, ordinal, content, start_offset, end_offset,
			COALESCE(filename, ''), COALESCE(file_type, ''),
			1 - (embedding <=> $1) / 2 AS score
		FROM %s
		WHERE $2 = '' OR document_id = $2
		ORDER BY embedding <=> $1, ordinal, id
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), filter.DocumentID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var hits []models.ScoredChunk
	for rows.Next() {
		var hit models.ScoredChunk
		c := &hit.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.Start, &c.End,
			&c.Metadata.Filename, &c.Metadata.FileType, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.Metadata.DocumentID = c.DocumentID
		hit.Score = clamp01(hit.Score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rank(hits, topK), nil
}

func (vs *VectorStore) Delete(ctx context.Context, documentID string) error {
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.config.TableName), documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (vs *VectorStore) Count(ctx context.Context, filter models.Filter) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE $1 = '' OR document_id = $1", vs.config.TableName),
		filter.DocumentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

// PGRegistry keeps document records in the documents table.
type PGRegistry struct {
	pool *pgxpool.Pool
}

var _ types.DocumentStore = (*PGRegistry)(nil)

const pgDocumentColumns = "id, filename, COALESCE(file_type, ''), size_bytes, status, chunk_count, word_count, char_count, COALESCE(error, ''), created_at"

func (r *PGRegistry) Put(ctx context.Context, doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", types.ErrValidation)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, file_type, size_bytes, status, chunk_count, word_count, char_count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			file_type = EXCLUDED.file_type,
			size_bytes = EXCLUDED.size_bytes,
			status = EXCLUDED.status,
			chunk_count = EXCLUDED.chunk_count,
			word_count = EXCLUDED.word_count,
			char_count = EXCLUDED.char_count,
			error = EXCLUDED.error`,
		doc.ID, doc.Filename, doc.FileType, doc.SizeBytes, string(doc.Status),
		doc.ChunkCount, doc.WordCount, doc.CharCount, doc.Error, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (r *PGRegistry) Get(ctx context.Context, id string) (models.Document, error) {
	doc, err := scanPGDocument(r.pool.QueryRow(ctx, "SELECT "+pgDocumentColumns+" FROM documents WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return doc, err
}

func (r *PGRegistry) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (r *PGRegistry) List(ctx context.Context) ([]models.Document, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+pgDocumentColumns+" FROM documents ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanPGDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PGRegistry) FindByFilename(ctx context.Context, filename string) (models.Document, bool, error) {
	doc, err := scanPGDocument(r.pool.QueryRow(ctx,
		"SELECT "+pgDocumentColumns+" FROM documents WHERE filename = $1 ORDER BY created_at DESC LIMIT 1", filename))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return models.Document{}, false, nil
	case err != nil:
		return models.Document{}, false, err
	}
	return doc, true, nil
}

func (r *PGRegistry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func scanPGDocument(row pgx.Row) (models.Document, error) {
	var (
		doc    models.Document
		status string
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.FileType, &doc.SizeBytes, &status,
		&doc.ChunkCount, &doc.WordCount, &doc.CharCount, &doc.Error, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return doc, err
		}
		return doc, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Status = models.DocumentStatus(status)
	return doc, nil
}
