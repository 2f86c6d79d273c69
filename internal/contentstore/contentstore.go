// Package contentstore is the durable blob store for raw document text. It
// abstracts two backends behind one interface: object-store-backed blobs
// (bytes live under a bucket key) and relational blobs (bytes live in a
// column). Content is immutable once written; the pipeline never assumes
// de-duplication.
package contentstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/objectstore"
)

// Store persists ContentBlob rows and dispatches to the configured backend
// for the actual bytes.
type Store struct {
	db      *sqlx.DB
	objects objectstore.ObjectStore
	backend model.StorageBackend
	bucket  string
}

// New creates a Store. objects may be nil when backend is relational.
func New(db *sqlx.DB, objects objectstore.ObjectStore, backend model.StorageBackend, bucket string) *Store {
	return &Store{db: db, objects: objects, backend: backend, bucket: bucket}
}

// Save writes content and returns the opaque ContentBlob id. The pipeline
// never requires Save to be idempotent by content hash — callers pass new
// bytes for each version of a document.
func (s *Store) Save(ctx context.Context, content []byte, mimeType string) (uuid.UUID, error) {
	blob := model.ContentBlob{
		ID:             uuid.New(),
		StorageBackend: s.backend,
		MimeType:       mimeType,
		CreatedAt:      time.Now().UTC(),
	}

	switch s.backend {
	case model.StorageBackendObjectStore:
		key := fmt.Sprintf("content/%s", blob.ID)
		if err := s.objects.Put(ctx, s.bucket, key, content); err != nil {
			return uuid.Nil, fmt.Errorf("upload content blob: %w", err)
		}
		blob.StorageKey = &key
	case model.StorageBackendRelational:
		blob.Content = content
	default:
		return uuid.Nil, fmt.Errorf("unknown storage backend %q", s.backend)
	}

	const query = `
		INSERT INTO content_blobs (id, storage_backend, storage_key, content, mime_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, query,
		blob.ID, blob.StorageBackend, blob.StorageKey, blob.Content, blob.MimeType, blob.CreatedAt,
	); err != nil {
		return uuid.Nil, fmt.Errorf("persist content blob row: %w", err)
	}
	return blob.ID, nil
}

// Load reads content back, dispatching on the row's recorded backend (not
// the store's configured backend, so reads remain correct across a backend
// migration).
func (s *Store) Load(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var blob model.ContentBlob
	const query = `
		SELECT id, storage_backend, storage_key, content, mime_type, created_at
		FROM content_blobs WHERE id = $1`
	if err := s.db.GetContext(ctx, &blob, query, id); err != nil {
		return nil, fmt.Errorf("load content blob %s: %w", id, err)
	}

	switch blob.StorageBackend {
	case model.StorageBackendObjectStore:
		if blob.StorageKey == nil {
			return nil, fmt.Errorf("content blob %s: object_store backend with no storage_key", id)
		}
		data, err := s.objects.Get(ctx, s.bucket, *blob.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("download content blob %s: %w", id, err)
		}
		return data, nil
	case model.StorageBackendRelational:
		return blob.Content, nil
	default:
		return nil, fmt.Errorf("content blob %s: unknown storage backend %q", id, blob.StorageBackend)
	}
}
