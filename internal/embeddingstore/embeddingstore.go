// Package embeddingstore persists Embedding rows and implements the atomic
// replace-on-reembedding guarantee: at no point does a reader observe a mix
// of old and new chunks for a document.
package embeddingstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ingestkit/ragpipe/internal/model"
)

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

// ReplaceForDocuments deletes all existing embeddings for the given document
// ids and bulk-inserts the new rows, all within a single transaction, so a
// concurrent reader sees either the full old set or the full new set.
// embeddings must already be sorted by (document_id, chunk_index).
func (s *Store) ReplaceForDocuments(ctx context.Context, documentIDs []uuid.UUID, embeddings []model.Embedding) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin embedding replace transaction: %w", err)
	}

	if len(documentIDs) > 0 {
		ids := make([]string, len(documentIDs))
		for i, id := range documentIDs {
			ids[i] = id.String()
		}
		const deleteQuery = `DELETE FROM embeddings WHERE document_id = ANY($1)`
		if _, err := tx.ExecContext(ctx, deleteQuery, pq.Array(ids)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete existing embeddings: %w", err)
		}
	}

	const insertQuery = `
		INSERT INTO embeddings (
			id, document_id, chunk_index, chunk_start_offset, chunk_end_offset,
			embedding, model_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i := range embeddings {
		e := &embeddings[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, insertQuery,
			e.ID, e.DocumentID, e.ChunkIndex, e.ChunkStartOffset, e.ChunkEndOffset,
			e.Vector, e.ModelName, e.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert embedding for document %s chunk %d: %w", e.DocumentID, e.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embedding replace transaction: %w", err)
	}
	return nil
}

// ListForDocument returns a document's embeddings ordered by chunk_index.
func (s *Store) ListForDocument(ctx context.Context, documentID uuid.UUID) ([]model.Embedding, error) {
	var rows []model.Embedding
	const query = `
		SELECT id, document_id, chunk_index, chunk_start_offset, chunk_end_offset,
		       embedding, model_name, created_at
		FROM embeddings WHERE document_id = $1 ORDER BY chunk_index ASC`
	if err := s.db.SelectContext(ctx, &rows, query, documentID); err != nil {
		return nil, fmt.Errorf("list embeddings for document %s: %w", documentID, err)
	}
	return rows, nil
}
