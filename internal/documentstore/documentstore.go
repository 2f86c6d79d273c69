// Package documentstore stores normalized Document records and their
// per-document embedding status (C2).
package documentstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ingestkit/ragpipe/internal/model"
)

// Document is the repository's view of model.Document.
type Document = model.Document

// flatDocument is the sqlx scan target: the nested Metadata/Permissions/
// Attributes fields are stored as JSON columns, not nested structs.
type flatDocument struct {
	ID              uuid.UUID `db:"id"`
	ExternalID      string    `db:"external_id"`
	SourceID        string    `db:"source_id"`
	Title           string    `db:"title"`
	MimeType        string    `db:"mime_type"`
	URL             string    `db:"url"`
	Metadata        []byte    `db:"metadata"`
	Permissions     []byte    `db:"permissions"`
	Attributes      []byte    `db:"attributes"`
	ContentID       uuid.UUID `db:"content_id"`
	ContentHash     string    `db:"content_hash"`
	EmbeddingStatus string    `db:"embedding_status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Store is the Document repository.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

// Upsert inserts a Document or, when ExternalID already exists, updates the
// mutable fields and returns the resolved ID — the dedup anchor document
// ingestion relies on.
func (s *Store) Upsert(ctx context.Context, doc *Document) (uuid.UUID, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal document metadata: %w", err)
	}
	permissionsJSON, err := json.Marshal(doc.Permissions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal document permissions: %w", err)
	}
	attributesJSON, err := json.Marshal(doc.Attributes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal document attributes: %w", err)
	}

	const query = `
		INSERT INTO documents (
			id, external_id, source_id, title, mime_type, url,
			metadata, permissions, attributes, content_id, content_hash, embedding_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			mime_type = EXCLUDED.mime_type,
			url = EXCLUDED.url,
			metadata = EXCLUDED.metadata,
			permissions = EXCLUDED.permissions,
			attributes = EXCLUDED.attributes,
			content_id = EXCLUDED.content_id,
			content_hash = EXCLUDED.content_hash,
			embedding_status = EXCLUDED.embedding_status,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	var resolvedID uuid.UUID
	err = s.db.QueryRowxContext(ctx, query,
		doc.ID, doc.ExternalID, doc.SourceID, doc.Title, doc.MimeType, doc.URL,
		metadataJSON, permissionsJSON, attributesJSON, doc.ContentID, doc.ContentHash, doc.EmbeddingStatus,
		doc.CreatedAt, doc.UpdatedAt,
	).Scan(&resolvedID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert document %s: %w", doc.ExternalID, err)
	}
	return resolvedID, nil
}

// Get retrieves a Document by its internal ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	var flat flatDocument
	const query = `
		SELECT id, external_id, source_id, title, mime_type, url,
		       metadata, permissions, attributes, content_id, content_hash, embedding_status,
		       created_at, updated_at
		FROM documents WHERE id = $1`
	if err := s.db.GetContext(ctx, &flat, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return flat.toDocument()
}

// GetByExternalID retrieves a Document by its dedup anchor. It returns
// (nil, nil) — not an error — when no such document exists yet, so callers
// can treat "not found" as "first time seeing this external_id".
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Document, error) {
	var flat flatDocument
	const query = `
		SELECT id, external_id, source_id, title, mime_type, url,
		       metadata, permissions, attributes, content_id, content_hash, embedding_status,
		       created_at, updated_at
		FROM documents WHERE external_id = $1`
	if err := s.db.GetContext(ctx, &flat, query, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get document by external_id %s: %w", externalID, err)
	}
	return flat.toDocument()
}

// SetEmbeddingStatus transitions a document's embedding_status, used at the
// end of result ingestion (completed) and when a batch fails (failed).
func (s *Store) SetEmbeddingStatus(ctx context.Context, id uuid.UUID, status model.EmbeddingStatus) error {
	const query = `UPDATE documents SET embedding_status = $1, updated_at = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set embedding status for document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (f flatDocument) toDocument() (*Document, error) {
	doc := &Document{
		ID:              f.ID,
		ExternalID:      f.ExternalID,
		SourceID:        f.SourceID,
		Title:           f.Title,
		MimeType:        f.MimeType,
		URL:             f.URL,
		ContentID:       f.ContentID,
		ContentHash:     f.ContentHash,
		EmbeddingStatus: model.EmbeddingStatus(f.EmbeddingStatus),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	if len(f.Metadata) > 0 {
		if err := json.Unmarshal(f.Metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal document metadata: %w", err)
		}
	}
	if len(f.Permissions) > 0 {
		if err := json.Unmarshal(f.Permissions, &doc.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal document permissions: %w", err)
		}
	}
	if len(f.Attributes) > 0 {
		if err := json.Unmarshal(f.Attributes, &doc.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal document attributes: %w", err)
		}
	}
	return doc, nil
}
