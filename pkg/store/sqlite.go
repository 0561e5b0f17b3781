package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL,
	ordinal      INTEGER NOT NULL,
	content      TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	filename     TEXT,
	file_type    TEXT,
	embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	file_type   TEXT,
	size_bytes  INTEGER,
	status      TEXT NOT NULL,
	chunk_count INTEGER,
	word_count  INTEGER,
	char_count  INTEGER,
	error       TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_filename_idx ON documents (filename);
`

// SQLiteIndex persists chunk vectors in a local SQLite file and scores
// candidates in process.
type SQLiteIndex struct {
	db *sql.DB

	mu   sync.RWMutex
	dims int
}

var _ types.VectorIndex = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens (creating if needed) the database at path.
func NewSQLiteIndex(path string, dims int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", types.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteIndex{db: db, dims: dims}
	if dims == 0 {
		var n sql.NullInt64
		if err := db.QueryRow("SELECT length(embedding) / 4 FROM chunks LIMIT 1").Scan(&n); err != nil && !errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, fmt.Errorf("reading stored dimensions: %w", err)
		}
		s.dims = int(n.Int64)
	}
	return s, nil
}

func (s *SQLiteIndex) Name() string { return BackendSQLite }

func (s *SQLiteIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Documents returns a document store sharing this database.
func (s *SQLiteIndex) Documents() *SQLiteRegistry {
	return &SQLiteRegistry{db: s.db}
}

func (s *SQLiteIndex) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dims
	if dims == 0 {
		dims = len(records[0].Vector)
	}
	for _, r := range records {
		if err := types.CheckDimensions(dims, r.Vector); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, ordinal, content, start_offset, end_offset, filename, file_type, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			filename = excluded.filename,
			file_type = excluded.file_type,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		c := r.Chunk
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Ordinal, c.Text, c.Start, c.End,
			c.Metadata.Filename, c.Metadata.FileType, float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.dims = dims
	return nil
}

func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, topK int, filter models.Filter) ([]models.ScoredChunk, error) {
	if topK <= 0 {
		return nil, ctx.Err()
	}
	if err := types.CheckDimensions(s.Dimensions(), vector); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, content, start_offset, end_offset, filename, file_type, embedding
		FROM chunks
		WHERE ? = '' OR document_id = ?`, filter.DocumentID, filter.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var hits []models.ScoredChunk
	for rows.Next() {
		var (
			c                  models.Chunk
			filename, fileType sql.NullString
			blob               []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.Start, &c.End, &filename, &fileType, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.Metadata = models.ChunkMetadata{Filename: filename.String, DocumentID: c.DocumentID, FileType: fileType.String}

		stored := bytesToFloat32Slice(blob)
		if len(stored) != len(vector) {
			return nil, &types.DimensionError{Expected: len(vector), Got: len(stored)}
		}
		hits = append(hits, models.ScoredChunk{Chunk: c, Score: similarity(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rank(hits, topK), nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Count(ctx context.Context, filter models.Filter) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE ? = '' OR document_id = ?",
		filter.DocumentID, filter.DocumentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// SQLiteRegistry keeps document records next to the chunks they own.
type SQLiteRegistry struct {
	db *sql.DB
}

var _ types.DocumentStore = (*SQLiteRegistry)(nil)

const documentColumns = "id, filename, file_type, size_bytes, status, chunk_count, word_count, char_count, error, created_at"

func (r *SQLiteRegistry) Put(ctx context.Context, doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", types.ErrValidation)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			file_type = excluded.file_type,
			size_bytes = excluded.size_bytes,
			status = excluded.status,
			chunk_count = excluded.chunk_count,
			word_count = excluded.word_count,
			char_count = excluded.char_count,
			error = excluded.error`,
		doc.ID, doc.Filename, doc.FileType, doc.SizeBytes, string(doc.Status),
		doc.ChunkCount, doc.WordCount, doc.CharCount, doc.Error, doc.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, id string) (models.Document, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return doc, err
}

func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]models.Document, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *SQLiteRegistry) FindByFilename(ctx context.Context, filename string) (models.Document, bool, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE filename = ? ORDER BY created_at DESC LIMIT 1", filename)
	doc, err := scanDocument(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Document{}, false, nil
	case err != nil:
		return models.Document{}, false, err
	}
	return doc, true, nil
}

func (r *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (models.Document, error) {
	var (
		doc           models.Document
		fileType, msg sql.NullString
		status        string
		createdAt     int64
	)
	err := row.Scan(&doc.ID, &doc.Filename, &fileType, &doc.SizeBytes, &status,
		&doc.ChunkCount, &doc.WordCount, &doc.CharCount, &msg, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, err
		}
		return doc, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.FileType = fileType.String
	doc.Status = models.DocumentStatus(status)
	doc.Error = msg.String
	doc.CreatedAt = time.Unix(0, createdAt).UTC()
	return doc, nil
}
