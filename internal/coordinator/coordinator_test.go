package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ragpipe/internal/config"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/ingestkit/ragpipe/internal/syncruntime"
	"github.com/ingestkit/ragpipe/internal/syncstore"
)

type fakeConnector struct {
	name string
}

func (f *fakeConnector) Name() string                   { return f.name }
func (f *fakeConnector) Version() string                { return "test" }
func (f *fakeConnector) SyncModes() []model.SyncType     { return []model.SyncType{model.SyncTypeIncremental} }
func (f *fakeConnector) Sync(context.Context, *syncruntime.SyncContext, map[string]string, map[string]interface{}) error {
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")

	registry := NewRegistry()
	registry.Register("demo", &fakeConnector{name: "demo"})

	sources := map[string]config.SourceConfig{
		"source-1": {SourceType: "demo", TenantID: uuid.NewString()},
	}

	c := New(sources, registry, nil, nil, syncstore.New(sqlxDB), nil, nil, nil, nil, 50, observability.NewNoopLogger())
	return c, mock
}

func TestCoordinator_TriggerRejectsUnknownSource(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Trigger(context.Background(), "does-not-exist", model.SyncTypeIncremental)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRegistry_ResolveUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	assert.Error(t, err)
}

func TestRegistry_ResolveRegistered(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConnector{name: "demo"}
	r.Register("demo", conn)
	got, err := r.Resolve("demo")
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestWatermarkState_SetsStartTimeAndPreservesOtherKeys(t *testing.T) {
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	prior := model.ConnectorState{"cursor": "abc123"}

	state := watermarkState(model.SyncTypeIncremental, start, prior)

	assert.Equal(t, "abc123", state["cursor"])
	assert.Equal(t, start.Format(time.RFC3339), state[model.LastSyncAtKey])
}
