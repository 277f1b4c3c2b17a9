package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/kbforge/internal/config"
	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/core/vector"
	"github.com/markdave123-py/kbforge/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	return Open(ctx, dsn)
}

// Open connects to dsn and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*DatabaseClient, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

const documentColumns = `id, chatbot_id, file_name, content_type, size_bytes, storage_url, checksum,
	status, version, chunk_count, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var d models.Document
	if err := r.Scan(
		&d.ID, &d.ChatbotID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.StorageURL, &d.Checksum,
		&d.Status, &d.Version, &d.ChunkCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, chatbot_id, file_name, content_type, size_bytes, storage_url, checksum, status, version, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), COALESCE($11, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.ChatbotID, doc.FileName, doc.ContentType, doc.SizeBytes, doc.StorageURL, doc.Checksum,
		doc.Status, doc.Version, nullTime(doc.CreatedAt), nullTime(doc.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByChatbot(ctx context.Context, chatbotID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE chatbot_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, chatbotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) LatestDocumentVersion(ctx context.Context, chatbotID, fileName string) (int, error) {
	const q = `SELECT COALESCE(MAX(version), 0) FROM documents WHERE chatbot_id = $1 AND file_name = $2`
	var v int
	err := c.db.QueryRowContext(ctx, q, chatbotID, fileName).Scan(&v)
	return v, err
}

// FindReadyDocumentByChecksum returns nil, nil when no ready document matches.
func (c *DatabaseClient) FindReadyDocumentByChecksum(ctx context.Context, chatbotID, checksum string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents
		WHERE chatbot_id = $1 AND checksum = $2 AND status = 'ready'
		ORDER BY version DESC LIMIT 1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, chatbotID, checksum))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, chunkCount int, errMsg *string) error {
	const q = `
		UPDATE documents
		SET status = $2, chunk_count = $3, error_message = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, chunkCount, errMsg)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes the row; chunks go with it through ON DELETE CASCADE.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteSupersededDocuments drops older versions of the same file than keepID
// and returns them so callers can release their stored objects.
func (c *DatabaseClient) DeleteSupersededDocuments(ctx context.Context, chatbotID, fileName, keepID string) ([]models.Document, error) {
	q := `
		DELETE FROM documents
		WHERE chatbot_id = $1 AND file_name = $2 AND id <> $3
		  AND version < (SELECT version FROM documents WHERE id = $3)
		RETURNING ` + documentColumns
	rows, err := c.db.QueryContext(ctx, q, chatbotID, fileName, keepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, chatbot_id, chunk_index, text, token_count, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, COALESCE($9, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]

		var emb any
		if ch.Embedding != nil {
			emb = pgvector.NewVector(ch.Embedding)
		}
		meta, err := encodeMetadata(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ChatbotID, ch.ChunkIndex, ch.Text, ch.TokenCount, emb, meta, nullTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, chatbot_id, chunk_index, text, token_count, embedding::text, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			emb  sql.NullString
			meta []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChatbotID, &ch.ChunkIndex, &ch.Text, &ch.TokenCount, &emb, &meta, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if emb.Valid {
			if ch.Embedding, err = vector.Parse(emb.String); err != nil {
				return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
			}
		}
		if ch.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchChunks ranks a chatbot's chunks by cosine similarity in one query.
// Zero-norm rows are excluded because their cosine distance is NaN.
func (c *DatabaseClient) SearchChunks(ctx context.Context, chatbotID string, queryVec []float32, threshold float64, limit int) ([]models.ScoredChunk, error) {
	if limit <= 0 || vector.L2Norm(queryVec) == 0 {
		return []models.ScoredChunk{}, nil
	}
	const q = `
		SELECT c.id, c.document_id, c.chatbot_id, c.chunk_index, c.text, c.token_count, c.metadata, c.created_at,
		       d.file_name, 1 - (c.embedding <=> $2) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.chatbot_id = $1
		  AND d.status = 'ready'
		  AND c.embedding IS NOT NULL
		  AND vector_dims(c.embedding) = vector_dims($2)
		  AND vector_norm(c.embedding) > 0
		  AND 1 - (c.embedding <=> $2) >= $3
		ORDER BY similarity DESC, d.created_at ASC, c.chunk_index ASC
		LIMIT $4
	`
	rows, err := c.db.QueryContext(ctx, q, chatbotID, pgvector.NewVector(queryVec), threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ScoredChunk{}
	for rows.Next() {
		var (
			sc   models.ScoredChunk
			meta []byte
		)
		ch := &sc.Chunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChatbotID, &ch.ChunkIndex, &ch.Text, &ch.TokenCount, &meta, &ch.CreatedAt,
			&sc.FileName, &sc.Similarity,
		); err != nil {
			return nil, err
		}
		if ch.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ListEmbeddedChunks returns every embedded chunk of the chatbot's ready
// documents in insertion order, for in-process ranking.
func (c *DatabaseClient) ListEmbeddedChunks(ctx context.Context, chatbotID string) ([]models.ScoredChunk, error) {
	const q = `
		SELECT c.id, c.document_id, c.chatbot_id, c.chunk_index, c.text, c.token_count, c.embedding, c.metadata,
		       c.created_at, d.file_name
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.chatbot_id = $1 AND d.status = 'ready' AND c.embedding IS NOT NULL
		ORDER BY d.created_at ASC, c.chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, chatbotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			sc   models.ScoredChunk
			emb  pgvector.Vector
			meta []byte
		)
		ch := &sc.Chunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChatbotID, &ch.ChunkIndex, &ch.Text, &ch.TokenCount, &emb, &meta,
			&ch.CreatedAt, &sc.FileName,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		if ch.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ core.DbClient = (*DatabaseClient)(nil)
