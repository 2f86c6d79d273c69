// Package model defines the data shapes persisted and exchanged across the
// content store, document store, embedding queue, batch orchestrator, and
// sync coordinator.
package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EmbeddingStatus tracks a Document's progress through the embedding pipeline.
type EmbeddingStatus string

const (
	EmbeddingStatusNone       EmbeddingStatus = "none"
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusCompleted  EmbeddingStatus = "completed"
	EmbeddingStatusFailed     EmbeddingStatus = "failed"
)

// DocumentMetadata is the optional author/timestamp envelope a connector may
// attach to a Document; all fields are optional per source capability.
type DocumentMetadata struct {
	Author    string     `json:"author,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// DocumentPermissions carries the coarse access-control hints a connector can
// report; fine-grained ACL resolution is out of scope.
type DocumentPermissions struct {
	Public      bool     `json:"public"`
	AllowGroups []string `json:"allow_groups,omitempty"`
	AllowUsers  []string `json:"allow_users,omitempty"`
}

// Document is the normalized cross-source artifact the whole pipeline
// operates on. ExternalID is the dedup anchor: emitting a Document with an
// ExternalID that already exists upserts the existing row.
type Document struct {
	ID              uuid.UUID              `json:"id" db:"id"`
	ExternalID      string                 `json:"external_id" db:"external_id"`
	SourceID        string                 `json:"source_id" db:"source_id"`
	Title           string                 `json:"title" db:"title"`
	MimeType        string                 `json:"mime_type" db:"mime_type"`
	URL             string                 `json:"url,omitempty" db:"url"`
	Metadata        DocumentMetadata       `json:"metadata" db:"metadata"`
	Permissions     DocumentPermissions    `json:"permissions" db:"permissions"`
	Attributes      map[string]interface{} `json:"attributes,omitempty" db:"attributes"`
	ContentID       uuid.UUID              `json:"content_id" db:"content_id"`
	ContentHash     string                 `json:"-" db:"content_hash"`
	EmbeddingStatus EmbeddingStatus        `json:"embedding_status" db:"embedding_status"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// StorageBackend selects where a ContentBlob's bytes physically live.
type StorageBackend string

const (
	StorageBackendObjectStore StorageBackend = "object_store"
	StorageBackendRelational  StorageBackend = "relational"
)

// ContentBlob is the immutable raw payload backing a Document. Exactly one of
// StorageKey (object_store) or Content (relational) is populated.
type ContentBlob struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	StorageBackend StorageBackend `json:"storage_backend" db:"storage_backend"`
	StorageKey     *string        `json:"storage_key,omitempty" db:"storage_key"`
	Content        []byte         `json:"-" db:"content"`
	MimeType       string         `json:"mime_type" db:"mime_type"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// QueueItemStatus is the lifecycle of one EmbeddingQueueItem.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemBatched    QueueItemStatus = "batched"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
)

// EmbeddingQueueItem is a work ticket for producing embeddings for one
// document. At most one non-terminal row exists per DocumentID at any time.
type EmbeddingQueueItem struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	DocumentID   uuid.UUID       `json:"document_id" db:"document_id"`
	Status       QueueItemStatus `json:"status" db:"status"`
	BatchJobID   *uuid.UUID      `json:"batch_job_id,omitempty" db:"batch_job_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
}

// BatchJobStatus is the lifecycle of a BatchJob.
type BatchJobStatus string

const (
	BatchJobPending    BatchJobStatus = "pending"
	BatchJobPreparing  BatchJobStatus = "preparing"
	BatchJobSubmitted  BatchJobStatus = "submitted"
	BatchJobProcessing BatchJobStatus = "processing"
	BatchJobCompleted  BatchJobStatus = "completed"
	BatchJobFailed     BatchJobStatus = "failed"
)

// BatchJob is a remote inference job covering many documents' chunks.
type BatchJob struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	Status            BatchJobStatus `json:"status" db:"status"`
	Provider          string         `json:"provider" db:"provider"`
	ExternalJobID     *string        `json:"external_job_id,omitempty" db:"external_job_id"`
	InputStoragePath  *string        `json:"input_storage_path,omitempty" db:"input_storage_path"`
	OutputStoragePath *string        `json:"output_storage_path,omitempty" db:"output_storage_path"`
	DocumentCount     int            `json:"document_count" db:"document_count"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	SubmittedAt       *time.Time     `json:"submitted_at,omitempty" db:"submitted_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage      *string        `json:"error_message,omitempty" db:"error_message"`
}

// Embedding is one chunk's vector. (DocumentID, ChunkIndex) is unique; all
// rows for a document are replaced atomically on re-embedding.
type Embedding struct {
	ID               uuid.UUID `json:"id" db:"id"`
	DocumentID       uuid.UUID `json:"document_id" db:"document_id"`
	ChunkIndex       int       `json:"chunk_index" db:"chunk_index"`
	ChunkStartOffset int       `json:"chunk_start_offset" db:"chunk_start_offset"`
	ChunkEndOffset   int       `json:"chunk_end_offset" db:"chunk_end_offset"`
	Vector           Vector    `json:"embedding" db:"embedding"`
	ModelName        string    `json:"model_name" db:"model_name"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Vector is a fixed-length float embedding. It implements sql.Scanner and
// driver.Valuer so it round-trips through Postgres as a lib/pq float8 array
// without the caller hand-converting on every query.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	f64 := make(pq.Float64Array, len(v))
	for i, f := range v {
		f64[i] = float64(f)
	}
	return f64.Value()
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src interface{}) error {
	var f64 pq.Float64Array
	if err := f64.Scan(src); err != nil {
		return fmt.Errorf("scan vector: %w", err)
	}
	out := make(Vector, len(f64))
	for i, f := range f64 {
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// SyncType distinguishes a full enumeration from a watermark-based delta.
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// SyncRunStatus is the lifecycle of one SyncRun.
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
	SyncRunCancelled SyncRunStatus = "cancelled"
)

// SyncRun is one execution of a connector's sync for one source.
type SyncRun struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	SourceID         string        `json:"source_id" db:"source_id"`
	SyncType         SyncType      `json:"sync_type" db:"sync_type"`
	Status           SyncRunStatus `json:"status" db:"status"`
	DocumentsScanned int           `json:"documents_scanned" db:"documents_scanned"`
	DocumentsEmitted int           `json:"documents_emitted" db:"documents_emitted"`
	ErrorMessage     *string       `json:"error_message,omitempty" db:"error_message"`
	StartedAt        time.Time     `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// ConnectorState is the opaque, last-write-wins checkpoint a connector
// persists mid-sync and on completion. The coordinator never inspects it.
type ConnectorState map[string]interface{}

// LastSyncAtKey is the conventional incremental-mode watermark key; a
// well-behaved connector round-trips it through ConnectorState.
const LastSyncAtKey = "last_sync_at"
