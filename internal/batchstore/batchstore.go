// Package batchstore is the BatchJob repository: the orchestrator's record
// of every remote inference job it has created, submitted, and monitored.
package batchstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ingestkit/ragpipe/internal/model"
)

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

// Create inserts a new BatchJob in the pending state.
func (s *Store) Create(ctx context.Context, provider string, documentCount int) (*model.BatchJob, error) {
	job := &model.BatchJob{
		ID:            uuid.New(),
		Status:        model.BatchJobPending,
		Provider:      provider,
		DocumentCount: documentCount,
		CreatedAt:     time.Now().UTC(),
	}
	const query = `
		INSERT INTO batch_jobs (id, status, provider, document_count, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, job.ID, job.Status, job.Provider, job.DocumentCount, job.CreatedAt); err != nil {
		return nil, fmt.Errorf("create batch job: %w", err)
	}
	return job, nil
}

// Get retrieves a BatchJob by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.BatchJob, error) {
	var job model.BatchJob
	const query = `
		SELECT id, status, provider, external_job_id, input_storage_path, output_storage_path,
		       document_count, created_at, submitted_at, completed_at, error_message
		FROM batch_jobs WHERE id = $1`
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("batch job not found: %s", id)
		}
		return nil, fmt.Errorf("get batch job %s: %w", id, err)
	}
	return &job, nil
}

// ListInFlight returns every batch currently in submitted or processing,
// the set the monitoring loop polls each tick.
func (s *Store) ListInFlight(ctx context.Context) ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	const query = `
		SELECT id, status, provider, external_job_id, input_storage_path, output_storage_path,
		       document_count, created_at, submitted_at, completed_at, error_message
		FROM batch_jobs WHERE status IN ($1, $2)`
	if err := s.db.SelectContext(ctx, &jobs, query, model.BatchJobSubmitted, model.BatchJobProcessing); err != nil {
		return nil, fmt.Errorf("list in-flight batch jobs: %w", err)
	}
	return jobs, nil
}

// SetPreparing transitions a batch from pending to preparing.
func (s *Store) SetPreparing(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, model.BatchJobPreparing, nil)
}

// SetSubmitted records the upload/submission outcome and transitions to submitted.
func (s *Store) SetSubmitted(ctx context.Context, id uuid.UUID, inputPath, outputPath, externalJobID string) error {
	now := time.Now().UTC()
	const query = `
		UPDATE batch_jobs
		SET status = $1, input_storage_path = $2, output_storage_path = $3,
		    external_job_id = $4, submitted_at = $5
		WHERE id = $6`
	_, err := s.db.ExecContext(ctx, query, model.BatchJobSubmitted, inputPath, outputPath, externalJobID, now, id)
	if err != nil {
		return fmt.Errorf("set batch %s submitted: %w", id, err)
	}
	return nil
}

// SetProcessing transitions a batch to processing, reported by the provider
// mid-flight between submission and a terminal state.
func (s *Store) SetProcessing(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, model.BatchJobProcessing, nil)
}

// SetCompleted marks a batch completed once result ingestion has finished.
func (s *Store) SetCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	const query = `UPDATE batch_jobs SET status = $1, completed_at = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, model.BatchJobCompleted, now, id); err != nil {
		return fmt.Errorf("set batch %s completed: %w", id, err)
	}
	return nil
}

// SetFailed marks a batch failed with an error message, recorded at any
// stage of the pipeline (prepare, submit, or a provider-reported failure).
func (s *Store) SetFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now().UTC()
	const query = `UPDATE batch_jobs SET status = $1, completed_at = $2, error_message = $3 WHERE id = $4`
	if _, err := s.db.ExecContext(ctx, query, model.BatchJobFailed, now, errMsg, id); err != nil {
		return fmt.Errorf("set batch %s failed: %w", id, err)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status model.BatchJobStatus, errMsg *string) error {
	const query = `UPDATE batch_jobs SET status = $1, error_message = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, status, errMsg, id); err != nil {
		return fmt.Errorf("set batch %s status %s: %w", id, status, err)
	}
	return nil
}
