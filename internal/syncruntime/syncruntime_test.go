package syncruntime

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ragpipe/internal/contentstore"
	"github.com/ingestkit/ragpipe/internal/documentstore"
	"github.com/ingestkit/ragpipe/internal/metrics"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/ingestkit/ragpipe/internal/queue"
	"github.com/ingestkit/ragpipe/internal/syncstore"
)

func newTestSyncContext(t *testing.T, checkpointInterval int) (*SyncContext, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")

	sctx := New(
		uuid.New(), "source-1", "demo", checkpointInterval,
		queue.New(sqlxDB, nil, observability.NewNoopLogger()),
		documentstore.New(sqlxDB),
		contentstore.New(sqlxDB, nil, model.StorageBackendRelational, ""),
		syncstore.New(sqlxDB),
		metrics.NewWithRegisterer(prometheus.NewRegistry()),
		observability.NewNoopLogger(),
		nil,
	)
	return sctx, mock
}

func expectEmit(mock sqlmock.Sqlmock, docID uuid.UUID) {
	mock.ExpectQuery("SELECT id, external_id, source_id, title, mime_type, url").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO content_blobs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO documents").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(docID))
	mock.ExpectExec("INSERT INTO embedding_queue_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sync_runs SET documents_scanned").WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestSyncContext_EmitUpsertsAndEnqueues(t *testing.T) {
	sctx, mock := newTestSyncContext(t, 50)
	expectEmit(mock, uuid.New())

	err := sctx.Emit(context.Background(), EmittedDocument{
		ExternalID: "src:doc:1",
		Title:      "hello",
		MimeType:   "text/plain",
		Content:    []byte("hello world"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sctx.emitted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncContext_EmitSkipsEnqueueWhenContentUnchangedAndCompleted(t *testing.T) {
	sctx, mock := newTestSyncContext(t, 50)

	content := []byte("hello world")
	hash := hashContent(content)
	existingRows := sqlmock.NewRows([]string{
		"id", "external_id", "source_id", "title", "mime_type", "url",
		"metadata", "permissions", "attributes", "content_id", "content_hash", "embedding_status",
		"created_at", "updated_at",
	}).AddRow(
		uuid.New(), "src:doc:1", "source-1", "hello", "text/plain", "",
		[]byte("{}"), []byte("{}"), []byte("{}"), uuid.New(), hash, "completed",
		time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT id, external_id, source_id, title, mime_type, url").WillReturnRows(existingRows)
	mock.ExpectExec("INSERT INTO content_blobs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO documents").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec("UPDATE sync_runs SET documents_scanned").WillReturnResult(sqlmock.NewResult(1, 1))

	err := sctx.Emit(context.Background(), EmittedDocument{
		ExternalID: "src:doc:1",
		Title:      "hello",
		MimeType:   "text/plain",
		Content:    content,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncContext_ChecksPointsEveryNEmissions(t *testing.T) {
	sctx, mock := newTestSyncContext(t, 2)

	expectEmit(mock, uuid.New())
	// The second emission reaches the interval: Emit checkpoints before it
	// reports progress.
	mock.ExpectQuery("SELECT id, external_id, source_id, title, mime_type, url").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO content_blobs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO documents").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec("INSERT INTO embedding_queue_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO connector_states").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sync_runs SET documents_scanned").WillReturnResult(sqlmock.NewResult(1, 1))

	for i := 0; i < 2; i++ {
		err := sctx.Emit(context.Background(), EmittedDocument{ExternalID: "src:doc:" + uuid.NewString(), Content: []byte("x")})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, sctx.sinceCheckpoint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncContext_CancelIsObservedByIsCancelled(t *testing.T) {
	sctx, _ := newTestSyncContext(t, 50)
	assert.False(t, sctx.IsCancelled())
	sctx.Cancel()
	assert.True(t, sctx.IsCancelled())

	err := sctx.Emit(context.Background(), EmittedDocument{ExternalID: "src:doc:1", Content: []byte("x")})
	assert.Error(t, err)
}

func TestSyncContext_IncrementScanned(t *testing.T) {
	sctx, _ := newTestSyncContext(t, 50)
	require.NoError(t, sctx.IncrementScanned())
	require.NoError(t, sctx.IncrementScanned())
	assert.Equal(t, 2, sctx.scanned)
}

func TestSyncContext_CompleteReportsProgressAndSavesState(t *testing.T) {
	sctx, mock := newTestSyncContext(t, 50)
	mock.ExpectExec("UPDATE sync_runs SET documents_scanned").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sync_runs SET status").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO connector_states").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := sctx.Complete(context.Background(), model.ConnectorState{"last_sync_at": "2026-07-31T00:00:00Z"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
