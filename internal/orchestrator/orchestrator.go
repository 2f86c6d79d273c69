// Package orchestrator is the Batch Orchestrator (C5): two cooperative
// loops that accumulate pending queue items into batches, submit them to an
// embedding provider, poll for completion, and ingest results with
// atomic-replace semantics.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ingestkit/ragpipe/internal/batchstore"
	"github.com/ingestkit/ragpipe/internal/chunker"
	"github.com/ingestkit/ragpipe/internal/config"
	"github.com/ingestkit/ragpipe/internal/contentstore"
	"github.com/ingestkit/ragpipe/internal/documentstore"
	"github.com/ingestkit/ragpipe/internal/embeddingstore"
	"github.com/ingestkit/ragpipe/internal/metrics"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/objectstore"
	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/ingestkit/ragpipe/internal/provider"
	"github.com/ingestkit/ragpipe/internal/queue"
	"github.com/ingestkit/ragpipe/internal/recordid"
	"github.com/ingestkit/ragpipe/internal/resilience"
)

// Orchestrator runs the accumulation and monitoring loops for the process
// lifetime. It has no public fields; construct one via New.
type Orchestrator struct {
	cfg config.BatchConfig

	queue      *queue.Queue
	documents  *documentstore.Store
	content    *contentstore.Store
	embeddings *embeddingstore.Store
	batches    *batchstore.Store
	objects    objectstore.ObjectStore
	bucket     string
	provider   provider.Provider
	breaker    *resilience.CircuitBreaker
	scorer     chunker.SemanticBoundaryScorer

	metrics *metrics.Metrics
	log     observability.Logger

	// accumulation tracker state, touched only by the accumulation loop's
	// single goroutine.
	lastSeenCount  int
	lastChangeTime time.Time

	wg sync.WaitGroup
}

// New constructs an Orchestrator. scorer may be nil unless cfg.ChunkMode is
// "semantic".
func New(
	cfg config.BatchConfig,
	q *queue.Queue,
	documents *documentstore.Store,
	content *contentstore.Store,
	embeddings *embeddingstore.Store,
	batches *batchstore.Store,
	objects objectstore.ObjectStore,
	bucket string,
	prov provider.Provider,
	breaker *resilience.CircuitBreaker,
	scorer chunker.SemanticBoundaryScorer,
	m *metrics.Metrics,
	log observability.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		queue:      q,
		documents:  documents,
		content:    content,
		embeddings: embeddings,
		batches:    batches,
		objects:    objects,
		bucket:     bucket,
		provider:   prov,
		breaker:    breaker,
		scorer:     scorer,
		metrics:    m,
		log:        log.WithPrefix("orchestrator"),
	}
}

// Run launches both loops and blocks until ctx is cancelled, then waits for
// in-flight prepare-and-submit tasks to finish; those tasks run on a context
// detached from ctx's cancellation.
func (o *Orchestrator) Run(ctx context.Context) {
	o.wg.Add(2)
	go o.accumulationLoop(ctx)
	go o.monitoringLoop(ctx)
	o.wg.Wait()
}

func (o *Orchestrator) accumulationLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.AccumulationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.accumulationTick(ctx); err != nil {
				o.log.Error("accumulation tick failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// accumulationTick claims up to the configured max pending items, tracks
// how long the observed count has been stable, and creates a batch once the
// min/max/timeout condition is met.
func (o *Orchestrator) accumulationTick(ctx context.Context) error {
	items, err := o.queue.ClaimPending(ctx, o.cfg.MaxDocuments)
	if err != nil {
		return fmt.Errorf("claim pending queue items: %w", err)
	}
	o.metrics.QueueDepth.Set(float64(len(items)))
	if len(items) == 0 {
		o.lastSeenCount = 0
		return nil
	}

	now := time.Now()
	if len(items) != o.lastSeenCount {
		o.lastSeenCount = len(items)
		o.lastChangeTime = now
	}
	if o.lastChangeTime.IsZero() {
		o.lastChangeTime = now
	}

	if !batchReady(len(items), o.cfg.MinDocuments, o.cfg.MaxDocuments, now.Sub(o.lastChangeTime), o.cfg.AccumulationTimeout) {
		return nil
	}

	batchID, err := o.createBatch(ctx, items)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}

	o.lastSeenCount = 0
	o.lastChangeTime = time.Time{}

	// Prepare-and-submit runs as an independent task so a slow upload never
	// blocks the next accumulation tick.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.prepareAndSubmit(context.WithoutCancel(ctx), batchID)
	}()
	return nil
}

// batchReady reports whether a batch should be created: at least min items
// are pending and either the batch is full or the observed count has been
// stable for timeout.
func batchReady(count, min, max int, elapsedSinceChange, timeout time.Duration) bool {
	if count < min {
		return false
	}
	return count >= max || elapsedSinceChange >= timeout
}

func (o *Orchestrator) createBatch(ctx context.Context, items []model.EmbeddingQueueItem) (uuid.UUID, error) {
	job, err := o.batches.Create(ctx, o.provider.ModelName(), len(items))
	if err != nil {
		return uuid.Nil, err
	}
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := o.queue.AssignToBatch(ctx, job.ID, ids); err != nil {
		return uuid.Nil, err
	}
	o.log.Info("created batch", map[string]interface{}{"batch_id": job.ID, "documents": len(items)})
	return job.ID, nil
}

type jsonlRecord struct {
	RecordID   string     `json:"recordId"`
	ModelInput modelInput `json:"modelInput"`
}

type modelInput struct {
	InputText string `json:"inputText"`
}

// prepareAndSubmit loads each item's document and content, chunks it,
// uploads a JSONL manifest, and submits the job. Any failure here marks the
// whole batch (and its items) failed with the error message.
func (o *Orchestrator) prepareAndSubmit(ctx context.Context, batchID uuid.UUID) {
	start := time.Now()
	if err := o.batches.SetPreparing(ctx, batchID); err != nil {
		o.failBatch(ctx, batchID, o.itemsOrEmpty(ctx, batchID), fmt.Sprintf("set batch preparing: %v", err))
		return
	}

	items, err := o.queue.ListForBatch(ctx, batchID)
	if err != nil {
		o.failBatch(ctx, batchID, items, fmt.Sprintf("list batch items: %v", err))
		return
	}

	var manifest []byte
	documentIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		records, err := o.prepareDocument(ctx, item.DocumentID)
		if err != nil {
			o.log.Warn("skipping document in batch", map[string]interface{}{
				"batch_id": batchID, "document_id": item.DocumentID, "error": err.Error(),
			})
			continue
		}
		if len(records) == 0 {
			o.log.Warn("skipping document with empty content in batch", map[string]interface{}{
				"batch_id": batchID, "document_id": item.DocumentID,
			})
			continue
		}
		for _, rec := range records {
			line, err := json.Marshal(rec)
			if err != nil {
				o.failBatch(ctx, batchID, items, fmt.Sprintf("marshal record: %v", err))
				return
			}
			manifest = append(manifest, line...)
			manifest = append(manifest, '\n')
		}
		documentIDs = append(documentIDs, item.DocumentID)
	}
	o.metrics.BatchAccumulation.Observe(time.Since(start).Seconds())

	inputPath := fmt.Sprintf("input/%s.jsonl", batchID)
	outputPath := fmt.Sprintf("output/%s/", batchID)

	if err := o.objects.Put(ctx, o.bucket, inputPath, manifest); err != nil {
		o.failBatch(ctx, batchID, items, fmt.Sprintf("upload input manifest: %v", err))
		return
	}

	var externalJobID string
	err = o.breaker.Execute(ctx, func() error {
		var callErr error
		externalJobID, callErr = o.provider.SubmitJob(ctx, inputPath, outputPath, batchID.String())
		return callErr
	})
	o.recordProviderCall("submit_job", err)
	if err != nil {
		o.failBatch(ctx, batchID, items, fmt.Sprintf("submit job: %v", err))
		return
	}

	if err := o.batches.SetSubmitted(ctx, batchID, inputPath, outputPath, externalJobID); err != nil {
		o.failBatch(ctx, batchID, items, fmt.Sprintf("record submission: %v", err))
		return
	}
	if err := o.queue.MarkProcessing(ctx, batchID); err != nil {
		o.log.Error("mark batch processing failed", map[string]interface{}{"batch_id": batchID, "error": err.Error()})
	}
	o.metrics.BatchesSubmitted.Inc()
	o.log.Info("submitted batch", map[string]interface{}{"batch_id": batchID, "external_job_id": externalJobID})
}

// prepareDocument loads one document's content, chunks it, and returns its
// JSONL records. An empty-content document yields zero records rather than
// an error: the caller skips the item with a warning instead of failing.
func (o *Orchestrator) prepareDocument(ctx context.Context, documentID uuid.UUID) ([]jsonlRecord, error) {
	doc, err := o.documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	content, err := o.content.Load(ctx, doc.ContentID)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if len(content) == 0 {
		return nil, nil
	}

	spans, err := chunker.Chunk(string(content), chunker.Mode(o.cfg.ChunkMode), o.cfg.ChunkMaxChars, o.scorer)
	if err != nil {
		return nil, fmt.Errorf("chunk content: %w", err)
	}

	records := make([]jsonlRecord, len(spans))
	for i, span := range spans {
		records[i] = jsonlRecord{
			RecordID:   recordid.Format(documentID.String(), i, span.Start, span.End),
			ModelInput: modelInput{InputText: string(content[span.Start:span.End])},
		}
	}
	o.metrics.ChunksCreated.Add(float64(len(records)))
	return records, nil
}

func (o *Orchestrator) failBatch(ctx context.Context, batchID uuid.UUID, items []model.EmbeddingQueueItem, errMsg string) {
	o.log.Error("batch preparation failed", map[string]interface{}{"batch_id": batchID, "error": errMsg})
	if err := o.batches.SetFailed(ctx, batchID, errMsg); err != nil {
		o.log.Error("mark batch failed failed", map[string]interface{}{"batch_id": batchID, "error": err.Error()})
	}
	if err := o.queue.MarkFailedForBatch(ctx, batchID, errMsg); err != nil {
		o.log.Error("mark queue items failed failed", map[string]interface{}{"batch_id": batchID, "error": err.Error()})
	}
	for _, item := range items {
		if err := o.documents.SetEmbeddingStatus(ctx, item.DocumentID, model.EmbeddingStatusFailed); err != nil {
			o.log.Warn("set document embedding status failed", map[string]interface{}{"document_id": item.DocumentID, "error": err.Error()})
		}
	}
	o.metrics.DocumentsFailed.Add(float64(len(items)))
	o.metrics.RecordBatchTerminal("failed")
}

func (o *Orchestrator) monitoringLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MonitorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.monitoringTick(ctx)
		}
	}
}

func (o *Orchestrator) monitoringTick(ctx context.Context) {
	jobs, err := o.batches.ListInFlight(ctx)
	if err != nil {
		o.log.Error("list in-flight batches failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, job := range jobs {
		o.pollBatch(ctx, job)
	}
}

func (o *Orchestrator) pollBatch(ctx context.Context, job model.BatchJob) {
	if job.ExternalJobID == nil {
		return
	}

	var status provider.Status
	var providerErrMsg string
	err := o.breaker.Execute(ctx, func() error {
		var callErr error
		status, providerErrMsg, callErr = o.provider.GetJobStatus(ctx, *job.ExternalJobID)
		return callErr
	})
	o.recordProviderCall("get_job_status", err)
	if err != nil {
		o.log.Warn("poll batch status failed", map[string]interface{}{"batch_id": job.ID, "error": err.Error()})
		return
	}

	switch status {
	case provider.StatusProcessing:
		if job.Status != model.BatchJobProcessing {
			if err := o.batches.SetProcessing(ctx, job.ID); err != nil {
				o.log.Error("set batch processing failed", map[string]interface{}{"batch_id": job.ID, "error": err.Error()})
			}
		}
	case provider.StatusCompleted:
		o.ingestResults(ctx, job)
	case provider.StatusFailed:
		o.failBatch(ctx, job.ID, o.itemsOrEmpty(ctx, job.ID), providerErrMsg)
	}
}

func (o *Orchestrator) itemsOrEmpty(ctx context.Context, batchID uuid.UUID) []model.EmbeddingQueueItem {
	items, err := o.queue.ListForBatch(ctx, batchID)
	if err != nil {
		o.log.Error("list batch items for failure handling failed", map[string]interface{}{"batch_id": batchID, "error": err.Error()})
		return nil
	}
	return items
}

type outputRecord struct {
	RecordID    string           `json:"recordId"`
	Error       *string          `json:"error,omitempty"`
	ModelOutput *modelOutputBody `json:"modelOutput,omitempty"`
}

type modelOutputBody struct {
	Embedding []float32 `json:"embedding"`
}

// ingestResults downloads every output file, parses and groups records by
// document, then atomically replaces each document's embeddings in one
// transaction per document set.
func (o *Orchestrator) ingestResults(ctx context.Context, job model.BatchJob) {
	start := time.Now()
	if job.OutputStoragePath == nil {
		o.failBatch(ctx, job.ID, o.itemsOrEmpty(ctx, job.ID), "batch completed with no output_storage_path recorded")
		return
	}

	keys, err := o.objects.List(ctx, o.bucket, *job.OutputStoragePath)
	if err != nil {
		o.failBatch(ctx, job.ID, o.itemsOrEmpty(ctx, job.ID), fmt.Sprintf("list batch output: %v", err))
		return
	}

	byDocument := map[uuid.UUID][]model.Embedding{}
	for _, key := range keys {
		if !objectstore.IsJSONLOutput(key) {
			continue
		}
		data, err := o.objects.Get(ctx, o.bucket, key)
		if err != nil {
			o.log.Warn("download batch output object failed", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}
		o.parseOutputInto(byDocument, data, job.Provider)
	}

	documentIDs := make([]uuid.UUID, 0, len(byDocument))
	var embeddings []model.Embedding
	for docID, rows := range byDocument {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ChunkIndex < rows[j].ChunkIndex })
		documentIDs = append(documentIDs, docID)
		embeddings = append(embeddings, rows...)
	}

	if err := o.embeddings.ReplaceForDocuments(ctx, documentIDs, embeddings); err != nil {
		o.failBatch(ctx, job.ID, o.itemsOrEmpty(ctx, job.ID), fmt.Sprintf("replace embeddings: %v", err))
		return
	}
	o.metrics.EmbeddingsWritten.Add(float64(len(embeddings)))

	completedIDs := make([]uuid.UUID, 0, len(byDocument))
	for _, item := range o.itemsOrEmpty(ctx, job.ID) {
		if _, ok := byDocument[item.DocumentID]; ok {
			completedIDs = append(completedIDs, item.ID)
		}
		if err := o.documents.SetEmbeddingStatus(ctx, item.DocumentID, model.EmbeddingStatusCompleted); err != nil {
			o.log.Warn("set document embedding status failed", map[string]interface{}{"document_id": item.DocumentID, "error": err.Error()})
		}
	}
	if err := o.queue.MarkCompleted(ctx, completedIDs); err != nil {
		o.log.Error("mark queue items completed failed", map[string]interface{}{"batch_id": job.ID, "error": err.Error()})
	}
	if err := o.batches.SetCompleted(ctx, job.ID); err != nil {
		o.log.Error("set batch completed failed", map[string]interface{}{"batch_id": job.ID, "error": err.Error()})
	}
	o.metrics.BatchProcessing.Observe(time.Since(start).Seconds())
	o.metrics.RecordBatchTerminal("completed")
	o.log.Info("ingested batch results", map[string]interface{}{"batch_id": job.ID, "documents": len(byDocument), "embeddings": len(embeddings)})
}

func (o *Orchestrator) parseOutputInto(byDocument map[uuid.UUID][]model.Embedding, data []byte, modelName string) {
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var rec outputRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			o.log.Warn("skipping malformed output line", map[string]interface{}{"error": err.Error()})
			continue
		}
		if rec.Error != nil {
			o.log.Warn("skipping output record with provider error", map[string]interface{}{"record_id": rec.RecordID, "error": *rec.Error})
			continue
		}
		parsed, err := recordid.Parse(rec.RecordID)
		if err != nil {
			o.log.Warn("skipping malformed recordId", map[string]interface{}{"record_id": rec.RecordID, "error": err.Error()})
			continue
		}
		docID, err := uuid.Parse(parsed.DocumentID)
		if err != nil {
			o.log.Warn("skipping recordId with non-uuid document_id", map[string]interface{}{"record_id": rec.RecordID})
			continue
		}
		var vector []float32
		if rec.ModelOutput != nil {
			vector = rec.ModelOutput.Embedding
		}
		byDocument[docID] = append(byDocument[docID], model.Embedding{
			DocumentID:       docID,
			ChunkIndex:       parsed.ChunkIndex,
			ChunkStartOffset: parsed.Start,
			ChunkEndOffset:   parsed.End,
			Vector:           model.Vector(vector),
			ModelName:        modelName,
			CreatedAt:        time.Now().UTC(),
		})
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func (o *Orchestrator) recordProviderCall(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.metrics.RecordProviderCall(o.provider.ModelName(), operation, outcome, 0)
	o.metrics.SetCircuitBreakerState("provider:embedding", o.breaker.State() == resilience.StateOpen)
}
