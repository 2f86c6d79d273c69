// Package provider is the pluggable remote/batch inference adapter (C6)
// consumed by the batch orchestrator. Two concrete adapters ship: a remote
// batch provider modeling an async cloud inference job, and an
// OpenAI-compatible synchronous provider that serves only Embed; its
// SubmitJob/GetJobStatus return errors.
package provider

import (
	"context"
)

// Status is the internal job-status enum the orchestrator's monitoring loop
// understands, after mapping away provider-specific vocabulary.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Provider is the narrow polymorphic surface the orchestrator needs.
type Provider interface {
	// SubmitJob submits a batch job referencing an uploaded input manifest
	// and an output prefix, returning a provider-assigned job id.
	SubmitJob(ctx context.Context, inputPath, outputPath, jobName string) (externalJobID string, err error)

	// GetJobStatus polls a previously submitted job. errMsg is non-empty
	// only when status is StatusFailed.
	GetJobStatus(ctx context.Context, externalJobID string) (status Status, errMsg string, err error)

	// Embed is the optional synchronous path for small/interactive use; it
	// is never called from the batch orchestrator.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName is echoed into Embedding.ModelName for forensic
	// traceability.
	ModelName() string
}
