// Package queue is the durable embedding work queue (C3): a FIFO of
// (document_id -> status) rows partitioned by batch assignment. At most one
// non-terminal row exists per document at any time; enqueueing a document
// that already has a non-terminal row collapses to that row instead of
// creating a duplicate.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
)

// Notifier is a best-effort fan-out hook invoked after a successful enqueue;
// an SQS-backed implementation gives the rest of the deployment an
// at-least-once event-bus signal without the DB row itself depending on it.
type Notifier interface {
	NotifyEnqueued(ctx context.Context, documentID uuid.UUID) error
}

// NoopNotifier is used when no event-bus notification is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyEnqueued(context.Context, uuid.UUID) error { return nil }

// Queue is the EmbeddingQueueItem repository.
type Queue struct {
	db       *sqlx.DB
	notifier Notifier
	log      observability.Logger
}

func New(db *sqlx.DB, notifier Notifier, log observability.Logger) *Queue {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Queue{db: db, notifier: notifier, log: log.WithPrefix("queue")}
}

// Enqueue inserts a pending row for documentID, or is a no-op if a
// non-terminal row already exists (collapses to a single row, per the
// invariant of the queue).
func (q *Queue) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	const query = `
		INSERT INTO embedding_queue_items (id, document_id, status, created_at)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM embedding_queue_items
			WHERE document_id = $2 AND status NOT IN ($5, $6)
		)`
	_, err := q.db.ExecContext(ctx, query,
		uuid.New(), documentID, model.QueueItemPending, time.Now().UTC(),
		model.QueueItemCompleted, model.QueueItemFailed,
	)
	if err != nil {
		return fmt.Errorf("enqueue document %s: %w", documentID, err)
	}
	if err := q.notifier.NotifyEnqueued(ctx, documentID); err != nil {
		// Best-effort: the DB row is the durable source of truth: the
		// orchestrator's poll loop will pick this item up regardless.
		q.log.Warn("queue notification failed", map[string]interface{}{"document_id": documentID, "error": err.Error()})
	}
	return nil
}

// ClaimPending selects up to limit pending rows not yet assigned to a batch,
// ordered by creation time (oldest first).
func (q *Queue) ClaimPending(ctx context.Context, limit int) ([]model.EmbeddingQueueItem, error) {
	var items []model.EmbeddingQueueItem
	const query = `
		SELECT id, document_id, status, batch_job_id, created_at, processed_at, error_message
		FROM embedding_queue_items
		WHERE status = $1 AND batch_job_id IS NULL
		ORDER BY created_at ASC
		LIMIT $2`
	if err := q.db.SelectContext(ctx, &items, query, model.QueueItemPending, limit); err != nil {
		return nil, fmt.Errorf("claim pending queue items: %w", err)
	}
	return items, nil
}

// AssignToBatch transactionally assigns ids to batchID and transitions them
// to batched.
func (q *Queue) AssignToBatch(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return withTx(ctx, q.db, func(tx *sqlx.Tx) error {
		const query = `
			UPDATE embedding_queue_items
			SET batch_job_id = $1, status = $2
			WHERE id = ANY($3)`
		if _, err := tx.ExecContext(ctx, query, batchID, model.QueueItemBatched, uuidArray(ids)); err != nil {
			return fmt.Errorf("assign queue items to batch %s: %w", batchID, err)
		}
		return nil
	})
}

// ListForBatch returns every queue item assigned to batchID, used by
// prepare-and-submit to resolve the document set for a created batch.
func (q *Queue) ListForBatch(ctx context.Context, batchID uuid.UUID) ([]model.EmbeddingQueueItem, error) {
	var items []model.EmbeddingQueueItem
	const query = `
		SELECT id, document_id, status, batch_job_id, created_at, processed_at, error_message
		FROM embedding_queue_items
		WHERE batch_job_id = $1`
	if err := q.db.SelectContext(ctx, &items, query, batchID); err != nil {
		return nil, fmt.Errorf("list queue items for batch %s: %w", batchID, err)
	}
	return items, nil
}

// MarkProcessing transitions every item in a batch to processing, called at
// submission time.
func (q *Queue) MarkProcessing(ctx context.Context, batchID uuid.UUID) error {
	const query = `UPDATE embedding_queue_items SET status = $1 WHERE batch_job_id = $2`
	if _, err := q.db.ExecContext(ctx, query, model.QueueItemProcessing, batchID); err != nil {
		return fmt.Errorf("mark batch %s processing: %w", batchID, err)
	}
	return nil
}

// MarkCompleted transitions the given ids to the terminal completed state.
func (q *Queue) MarkCompleted(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `
		UPDATE embedding_queue_items
		SET status = $1, processed_at = $2
		WHERE id = ANY($3)`
	_, err := q.db.ExecContext(ctx, query, model.QueueItemCompleted, time.Now().UTC(), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("mark queue items completed: %w", err)
	}
	return nil
}

// MarkFailed transitions the given ids to the terminal failed state with an
// error message.
func (q *Queue) MarkFailed(ctx context.Context, ids []uuid.UUID, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `
		UPDATE embedding_queue_items
		SET status = $1, processed_at = $2, error_message = $3
		WHERE id = ANY($4)`
	_, err := q.db.ExecContext(ctx, query, model.QueueItemFailed, time.Now().UTC(), errMsg, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("mark queue items failed: %w", err)
	}
	return nil
}

// MarkFailedForBatch marks every non-terminal item of a batch as failed;
// used when a batch job itself fails or a provider poll reports failure.
func (q *Queue) MarkFailedForBatch(ctx context.Context, batchID uuid.UUID, errMsg string) error {
	const query = `
		UPDATE embedding_queue_items
		SET status = $1, processed_at = $2, error_message = $3
		WHERE batch_job_id = $4 AND status NOT IN ($5, $6)`
	_, err := q.db.ExecContext(ctx, query,
		model.QueueItemFailed, time.Now().UTC(), errMsg, batchID,
		model.QueueItemCompleted, model.QueueItemFailed,
	)
	if err != nil {
		return fmt.Errorf("mark batch %s items failed: %w", batchID, err)
	}
	return nil
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// uuidArray adapts a []uuid.UUID into the driver representation lib/pq's
// pq.Array expects for ANY($n) comparisons.
func uuidArray(ids []uuid.UUID) interface{} {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}
