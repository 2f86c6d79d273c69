// Package coordinator is the Sync Coordinator (C8): it exposes the HTTP API
// that initiates, tracks, and records connector sync runs for each
// configured source, enforcing at most one running sync per source.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ingestkit/ragpipe/internal/cache"
	"github.com/ingestkit/ragpipe/internal/config"
	"github.com/ingestkit/ragpipe/internal/contentstore"
	"github.com/ingestkit/ragpipe/internal/documentstore"
	"github.com/ingestkit/ragpipe/internal/errkind"
	"github.com/ingestkit/ragpipe/internal/metrics"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/ingestkit/ragpipe/internal/queue"
	"github.com/ingestkit/ragpipe/internal/security"
	"github.com/ingestkit/ragpipe/internal/syncruntime"
	"github.com/ingestkit/ragpipe/internal/syncstore"
)

// ErrSyncAlreadyRunning is returned by Trigger when a source already has a
// run in progress; the HTTP handler maps it to 409.
var ErrSyncAlreadyRunning = fmt.Errorf("a sync is already running for this source")

// ErrUnknownSource is returned for a source_id not present in configuration.
var ErrUnknownSource = fmt.Errorf("unknown source_id")

// Registry resolves a configured source's connector by its source type.
type Registry struct {
	connectors map[string]syncruntime.Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: map[string]syncruntime.Connector{}}
}

func (r *Registry) Register(sourceType string, c syncruntime.Connector) {
	r.connectors[sourceType] = c
}

func (r *Registry) Resolve(sourceType string) (syncruntime.Connector, error) {
	c, ok := r.connectors[sourceType]
	if !ok {
		return nil, fmt.Errorf("no connector registered for source type %q", sourceType)
	}
	return c, nil
}

// Coordinator wires together everything a sync run needs: the connector
// registry, credential storage, the distributed run-lock, and the
// SyncContext dependencies the runtime hands to a Connector.
type Coordinator struct {
	sources  map[string]config.SourceConfig
	registry *Registry

	credentials *security.CredentialManager
	lock        *cache.SyncLock
	syncs       *syncstore.Store
	queue       *queue.Queue
	documents   *documentstore.Store
	content     *contentstore.Store
	metrics     *metrics.Metrics
	log         observability.Logger

	checkpointInterval int
}

func New(
	sources map[string]config.SourceConfig,
	registry *Registry,
	credentials *security.CredentialManager,
	lock *cache.SyncLock,
	syncs *syncstore.Store,
	q *queue.Queue,
	documents *documentstore.Store,
	content *contentstore.Store,
	m *metrics.Metrics,
	checkpointInterval int,
	log observability.Logger,
) *Coordinator {
	return &Coordinator{
		sources:            sources,
		registry:           registry,
		credentials:        credentials,
		lock:               lock,
		syncs:              syncs,
		queue:              q,
		documents:          documents,
		content:            content,
		metrics:            m,
		checkpointInterval: checkpointInterval,
		log:                log.WithPrefix("coordinator"),
	}
}

// Trigger starts a sync run for sourceID and returns its run id immediately;
// the run itself executes asynchronously. It enforces that at most one sync
// per source runs at a time via a Redis-backed lock. The tenant is resolved
// from the source's own configuration, not from the caller, so a request
// can't trigger a sync under a tenant it doesn't own.
func (c *Coordinator) Trigger(ctx context.Context, sourceID string, syncType model.SyncType) (*model.SyncRun, error) {
	source, ok := c.sources[sourceID]
	if !ok {
		return nil, ErrUnknownSource
	}
	tenantID, err := uuid.Parse(source.TenantID)
	if err != nil {
		return nil, fmt.Errorf("source %q has an invalid tenant_id in configuration: %w", sourceID, err)
	}
	connector, err := c.registry.Resolve(source.SourceType)
	if err != nil {
		return nil, err
	}

	run, err := c.syncs.Create(ctx, sourceID, syncType)
	if err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	if err := c.lock.Acquire(ctx, sourceID, run.ID); err != nil {
		if err == cache.ErrAlreadyLocked {
			c.metrics.SyncConflicts.Inc()
			_ = c.syncs.SetFailed(ctx, run.ID, "a sync was already running for this source")
			return nil, ErrSyncAlreadyRunning
		}
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}

	c.metrics.SyncRunsStarted.Inc()
	go c.runSync(context.WithoutCancel(ctx), run.ID, tenantID, sourceID, source, connector, syncType)
	return run, nil
}

// Get retrieves a SyncRun's current status for GET /sync/{id}.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*model.SyncRun, error) {
	return c.syncs.Get(ctx, id)
}

// ListForSource retrieves every run recorded for a source, used by
// GET /sync?source_id=.
func (c *Coordinator) ListForSource(ctx context.Context, sourceID string) ([]model.SyncRun, error) {
	return c.syncs.ListForSource(ctx, sourceID)
}

func (c *Coordinator) runSync(
	ctx context.Context,
	runID uuid.UUID,
	tenantID uuid.UUID,
	sourceID string,
	source config.SourceConfig,
	connector syncruntime.Connector,
	syncType model.SyncType,
) {
	start := time.Now()
	defer func() {
		if err := c.lock.Release(context.Background(), sourceID, runID); err != nil {
			c.log.Warn("release sync lock failed", map[string]interface{}{"source_id": sourceID, "run_id": runID, "error": err.Error()})
		}
	}()

	credentials, err := c.credentials.GetAllCredentials(ctx, tenantID, sourceID)
	if err != nil {
		c.finishFailed(ctx, runID, start, fmt.Errorf("load credentials: %w", err))
		return
	}

	priorState, err := c.syncs.GetState(ctx, sourceID)
	if err != nil {
		c.finishFailed(ctx, runID, start, fmt.Errorf("load connector state: %w", err))
		return
	}

	sctx := syncruntime.New(
		runID, sourceID, source.SourceType, c.checkpointInterval,
		c.queue, c.documents, c.content, c.syncs, c.metrics, c.log, priorState,
	)

	if err := connector.Sync(ctx, sctx, credentials, source.Settings); err != nil {
		kind := errkind.Of(err)
		reason := err.Error()
		if kind == errkind.Authentication {
			reason = "Authentication failed"
		}
		if ferr := sctx.Fail(ctx, reason); ferr != nil {
			c.log.Error("record sync failure failed", map[string]interface{}{"run_id": runID, "error": ferr.Error()})
		}
		c.metrics.RecordSyncTerminal("failed", time.Since(start).Seconds())
		return
	}

	newState := watermarkState(syncType, start, sctx.State())
	if err := sctx.Complete(ctx, newState); err != nil {
		c.log.Error("record sync completion failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
	}
	c.metrics.RecordSyncTerminal("completed", time.Since(start).Seconds())
}

func (c *Coordinator) finishFailed(ctx context.Context, runID uuid.UUID, start time.Time, err error) {
	c.log.Error("sync run failed before connector start", map[string]interface{}{"run_id": runID, "error": err.Error()})
	if setErr := c.syncs.SetFailed(ctx, runID, err.Error()); setErr != nil {
		c.log.Error("record sync failure failed", map[string]interface{}{"run_id": runID, "error": setErr.Error()})
	}
	c.metrics.RecordSyncTerminal("failed", time.Since(start).Seconds())
}

// watermarkState sets last_sync_at to the start time of the current sync
// rather than its completion time, so documents modified while this sync
// was running are not skipped by the next incremental run.
func watermarkState(syncType model.SyncType, start time.Time, priorState model.ConnectorState) model.ConnectorState {
	state := model.ConnectorState{}
	for k, v := range priorState {
		state[k] = v
	}
	state[model.LastSyncAtKey] = start.UTC().Format(time.RFC3339)
	return state
}
