package demo

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

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
	"github.com/ingestkit/ragpipe/internal/syncruntime"
	"github.com/ingestkit/ragpipe/internal/syncstore"
)

func newTestSyncContext(t *testing.T) (*syncruntime.SyncContext, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")

	sctx := syncruntime.New(
		uuid.New(), "source-1", "demo", 50,
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

func expectEmit(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT id, external_id, source_id, title, mime_type, url").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO content_blobs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO documents").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec("INSERT INTO embedding_queue_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sync_runs SET documents_scanned").WillReturnResult(sqlmock.NewResult(1, 1))
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

func TestConnector_SyncEmitsAllObjectsAcrossPages(t *testing.T) {
	tokenServer := newTokenServer(t)
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/objects" && r.URL.Query().Get("cursor") == "":
			_ = json.NewEncoder(w).Encode(page{
				Objects:    []objectRef{{ID: "1", ObjectType: "notes"}},
				NextCursor: "page-2",
			})
		case r.URL.Path == "/objects" && r.URL.Query().Get("cursor") == "page-2":
			_ = json.NewEncoder(w).Encode(page{Objects: []objectRef{{ID: "2", ObjectType: "notes"}}})
		case r.URL.Path == "/objects/1" || r.URL.Path == "/objects/2":
			_ = json.NewEncoder(w).Encode(objectDetail{Title: "t", Body: "body " + r.URL.Path})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer apiServer.Close()

	sctx, mock := newTestSyncContext(t)
	expectEmit(mock)
	expectEmit(mock)

	conn := New(apiServer.URL)
	creds := map[string]string{"client_id": "id", "client_secret": "secret"}
	sourceConfig := map[string]interface{}{"token_url": tokenServer.URL}

	err := conn.Sync(context.Background(), sctx, creds, sourceConfig)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnector_SyncMissingCredentialsFailsFast(t *testing.T) {
	sctx, _ := newTestSyncContext(t)
	conn := New("http://example.invalid")

	err := conn.Sync(context.Background(), sctx, map[string]string{}, map[string]interface{}{"token_url": "http://example.invalid/token"})
	assert.Error(t, err)
}

func TestConnector_Sync401TerminatesWithAuthFailure(t *testing.T) {
	tokenServer := newTokenServer(t)
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer apiServer.Close()

	sctx, _ := newTestSyncContext(t)
	conn := New(apiServer.URL)
	err := conn.Sync(context.Background(), sctx, map[string]string{"client_id": "id", "client_secret": "secret"}, map[string]interface{}{"token_url": tokenServer.URL})

	assert.ErrorContains(t, err, "Authentication failed")
}

func TestConnector_Sync403SkipsObjectTypeButSucceeds(t *testing.T) {
	tokenServer := newTokenServer(t)
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/objects":
			_ = json.NewEncoder(w).Encode(page{Objects: []objectRef{{ID: "1", ObjectType: "tickets"}, {ID: "2", ObjectType: "contacts"}}})
		case "/objects/1":
			w.WriteHeader(http.StatusForbidden)
		case "/objects/2":
			_ = json.NewEncoder(w).Encode(objectDetail{Title: "t", Body: "b"})
		}
	}))
	defer apiServer.Close()

	sctx, mock := newTestSyncContext(t)
	expectEmit(mock)

	conn := New(apiServer.URL)
	err := conn.Sync(context.Background(), sctx, map[string]string{"client_id": "id", "client_secret": "secret"}, map[string]interface{}{"token_url": tokenServer.URL})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnector_SyncCancellationStopsImmediately(t *testing.T) {
	tokenServer := newTokenServer(t)
	defer tokenServer.Close()

	sctx, _ := newTestSyncContext(t)
	sctx.Cancel()

	conn := New("http://example.invalid")
	err := conn.Sync(context.Background(), sctx, map[string]string{"client_id": "id", "client_secret": "secret"}, map[string]interface{}{"token_url": tokenServer.URL})

	assert.ErrorContains(t, err, "Cancelled")
}
