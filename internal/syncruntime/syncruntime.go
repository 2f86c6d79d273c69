// Package syncruntime is the Connector Runtime (C7): the SyncContext a
// Connector implementation drives to persist content, emit Documents,
// checkpoint state, and observe cancellation, plus the Connector contract
// itself.
package syncruntime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ingestkit/ragpipe/internal/contentstore"
	"github.com/ingestkit/ragpipe/internal/documentstore"
	"github.com/ingestkit/ragpipe/internal/metrics"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/ingestkit/ragpipe/internal/queue"
	"github.com/ingestkit/ragpipe/internal/syncstore"
)

// EmittedDocument is the normalized shape a Connector hands to SyncContext.Emit.
type EmittedDocument struct {
	ExternalID  string
	Title       string
	MimeType    string
	URL         string
	Metadata    model.DocumentMetadata
	Permissions model.DocumentPermissions
	Attributes  map[string]interface{}
	Content     []byte
}

// Connector is the polymorphic interface a source-specific implementation
// satisfies. A single binary may host several source types, selected by
// SourceType at sync time.
type Connector interface {
	Name() string
	Version() string
	// SyncModes is the subset of {full, incremental} this connector supports.
	SyncModes() []model.SyncType
	// Sync drives one run to completion, calling back into ctx for every
	// side effect. Sync itself never touches the database or object store
	// directly — SyncContext is the only door.
	Sync(ctx context.Context, sctx *SyncContext, credentials map[string]string, sourceConfig map[string]interface{}) error
}

// SyncContext is the capability surface a Connector is handed for one run.
// It is not safe for concurrent use by multiple goroutines within a single
// sync — a connector drives one run sequentially.
type SyncContext struct {
	runID              uuid.UUID
	sourceID           string
	sourceType         string
	checkpointInterval int

	queue      *queue.Queue
	documents  *documentstore.Store
	content    *contentstore.Store
	syncs      *syncstore.Store
	metrics    *metrics.Metrics
	log        observability.Logger

	cancelled atomic.Bool

	scanned        int
	emitted        int
	sinceCheckpoint int
	state          model.ConnectorState
}

// New constructs a SyncContext for one run. state is the connector's prior
// checkpoint, loaded by the coordinator before Sync is called.
func New(
	runID uuid.UUID,
	sourceID, sourceType string,
	checkpointInterval int,
	q *queue.Queue,
	documents *documentstore.Store,
	content *contentstore.Store,
	syncs *syncstore.Store,
	m *metrics.Metrics,
	log observability.Logger,
	priorState model.ConnectorState,
) *SyncContext {
	if checkpointInterval <= 0 {
		checkpointInterval = 50
	}
	if priorState == nil {
		priorState = model.ConnectorState{}
	}
	return &SyncContext{
		runID:              runID,
		sourceID:           sourceID,
		sourceType:         sourceType,
		checkpointInterval: checkpointInterval,
		queue:              q,
		documents:          documents,
		content:            content,
		syncs:              syncs,
		metrics:            m,
		log:                log.WithPrefix("syncruntime"),
		state:              priorState,
	}
}

// SourceType is surfaced to the connector for polymorphic dispatch (e.g. a
// Microsoft 365 connector selecting OneDrive vs. Outlook vs. Calendar).
func (c *SyncContext) SourceType() string { return c.sourceType }

// State returns the connector's current checkpoint: the prior run's state
// until SaveState replaces it during this run.
func (c *SyncContext) State() model.ConnectorState { return c.state }

// Emit upserts a Document by ExternalID and enqueues it for embedding unless
// it's already fully embedded with unchanged content, in which case the
// upsert still runs (metadata/title may have changed) but the queue is left
// alone — a full sync that re-enumerates every reachable object must not
// re-embed documents that haven't actually changed.
func (c *SyncContext) Emit(ctx context.Context, doc EmittedDocument) error {
	if c.cancelled.Load() {
		return fmt.Errorf("sync run %s: emit called after cancellation", c.runID)
	}

	contentHash := hashContent(doc.Content)
	existing, err := c.documents.GetByExternalID(ctx, doc.ExternalID)
	if err != nil {
		return fmt.Errorf("look up existing document %s: %w", doc.ExternalID, err)
	}
	unchanged := existing != nil &&
		existing.EmbeddingStatus == model.EmbeddingStatusCompleted &&
		existing.ContentHash == contentHash

	contentID, err := c.content.Save(ctx, doc.Content, doc.MimeType)
	if err != nil {
		return fmt.Errorf("save content for %s: %w", doc.ExternalID, err)
	}

	embeddingStatus := model.EmbeddingStatusPending
	if unchanged {
		embeddingStatus = model.EmbeddingStatusCompleted
	}

	record := &model.Document{
		ExternalID:      doc.ExternalID,
		SourceID:        c.sourceID,
		Title:           doc.Title,
		MimeType:        doc.MimeType,
		URL:             doc.URL,
		Metadata:        doc.Metadata,
		Permissions:     doc.Permissions,
		Attributes:      doc.Attributes,
		ContentID:       contentID,
		ContentHash:     contentHash,
		EmbeddingStatus: embeddingStatus,
	}
	documentID, err := c.documents.Upsert(ctx, record)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ExternalID, err)
	}
	if !unchanged {
		if err := c.queue.Enqueue(ctx, documentID); err != nil {
			return fmt.Errorf("enqueue document %s: %w", doc.ExternalID, err)
		}
	}

	c.emitted++
	c.metrics.DocumentsIngested.Inc()
	c.sinceCheckpoint++
	if c.sinceCheckpoint >= c.checkpointInterval {
		if err := c.checkpoint(ctx); err != nil {
			c.log.Warn("mid-sync checkpoint failed", map[string]interface{}{"source_id": c.sourceID, "error": err.Error()})
		}
		c.sinceCheckpoint = 0
	}
	return c.reportProgress(ctx)
}

// IncrementScanned records that one more source object was examined,
// independent of whether it was emitted.
func (c *SyncContext) IncrementScanned() error {
	c.scanned++
	c.metrics.ObjectsScanned.Inc()
	return nil
}

// EmitError records a per-object failure; the sync as a whole may still complete.
func (c *SyncContext) EmitError(externalID, message string) {
	c.log.Warn("connector object error", map[string]interface{}{
		"source_id": c.sourceID, "external_id": externalID, "error": message,
	})
}

// SaveState durably checkpoints state mid-sync, independent of the
// checkpoint-interval path Emit drives automatically.
func (c *SyncContext) SaveState(ctx context.Context, state model.ConnectorState) error {
	c.state = state
	return c.syncs.SaveState(ctx, c.sourceID, state)
}

// Complete finalizes the run as a success, replacing the connector's
// checkpoint with newState.
func (c *SyncContext) Complete(ctx context.Context, newState model.ConnectorState) error {
	if err := c.reportProgress(ctx); err != nil {
		c.log.Warn("final progress report failed", map[string]interface{}{"source_id": c.sourceID, "error": err.Error()})
	}
	return c.syncs.SetCompleted(ctx, c.runID, c.sourceID, newState)
}

// Fail finalizes the run as a failure; the connector's prior state is left
// untouched so the next run resumes from the same watermark.
func (c *SyncContext) Fail(ctx context.Context, reason string) error {
	if err := c.reportProgress(ctx); err != nil {
		c.log.Warn("final progress report failed", map[string]interface{}{"source_id": c.sourceID, "error": err.Error()})
	}
	return c.syncs.SetFailed(ctx, c.runID, reason)
}

// Cancel requests cooperative cancellation; the connector observes it via
// IsCancelled at its next page/object boundary.
func (c *SyncContext) Cancel() { c.cancelled.Store(true) }

// IsCancelled is polled by the connector at every page boundary and every object.
func (c *SyncContext) IsCancelled() bool { return c.cancelled.Load() }

func (c *SyncContext) checkpoint(ctx context.Context) error {
	return c.syncs.SaveState(ctx, c.sourceID, c.state)
}

func (c *SyncContext) reportProgress(ctx context.Context) error {
	return c.syncs.UpdateProgress(ctx, c.runID, c.scanned, c.emitted)
}

// hashContent gives Emit a cheap way to detect "content changed" without
// re-reading the previous blob back from the content store.
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
