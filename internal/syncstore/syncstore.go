// Package syncstore is the SyncRun and ConnectorState repository backing
// the sync coordinator (C8): one row per connector sync execution, plus the
// opaque per-source checkpoint a connector persists across runs.
package syncstore

import (
	"context"
	"database/sql"
	"encoding/json"
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

type flatSyncRun struct {
	ID               uuid.UUID  `db:"id"`
	SourceID         string     `db:"source_id"`
	SyncType         string     `db:"sync_type"`
	Status           string     `db:"status"`
	DocumentsScanned int        `db:"documents_scanned"`
	DocumentsEmitted int        `db:"documents_emitted"`
	ErrorMessage     *string    `db:"error_message"`
	StartedAt        time.Time  `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
}

func (f flatSyncRun) toModel() model.SyncRun {
	return model.SyncRun{
		ID:               f.ID,
		SourceID:         f.SourceID,
		SyncType:         model.SyncType(f.SyncType),
		Status:           model.SyncRunStatus(f.Status),
		DocumentsScanned: f.DocumentsScanned,
		DocumentsEmitted: f.DocumentsEmitted,
		ErrorMessage:     f.ErrorMessage,
		StartedAt:        f.StartedAt,
		CompletedAt:      f.CompletedAt,
	}
}

// Create inserts a running SyncRun, returning its id.
func (s *Store) Create(ctx context.Context, sourceID string, syncType model.SyncType) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New(),
		SourceID:  sourceID,
		SyncType:  syncType,
		Status:    model.SyncRunRunning,
		StartedAt: time.Now().UTC(),
	}
	const query = `
		INSERT INTO sync_runs (id, source_id, sync_type, status, documents_scanned, documents_emitted, started_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5)`
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.SourceID, run.SyncType, run.Status, run.StartedAt); err != nil {
		return nil, fmt.Errorf("create sync run for source %s: %w", sourceID, err)
	}
	return run, nil
}

// Get retrieves a SyncRun by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.SyncRun, error) {
	var flat flatSyncRun
	const query = `
		SELECT id, source_id, sync_type, status, documents_scanned, documents_emitted,
		       error_message, started_at, completed_at
		FROM sync_runs WHERE id = $1`
	if err := s.db.GetContext(ctx, &flat, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sync run not found: %s", id)
		}
		return nil, fmt.Errorf("get sync run %s: %w", id, err)
	}
	run := flat.toModel()
	return &run, nil
}

// ListForSource returns every SyncRun recorded for a source, most recent first.
func (s *Store) ListForSource(ctx context.Context, sourceID string) ([]model.SyncRun, error) {
	var flats []flatSyncRun
	const query = `
		SELECT id, source_id, sync_type, status, documents_scanned, documents_emitted,
		       error_message, started_at, completed_at
		FROM sync_runs WHERE source_id = $1 ORDER BY started_at DESC`
	if err := s.db.SelectContext(ctx, &flats, query, sourceID); err != nil {
		return nil, fmt.Errorf("list sync runs for source %s: %w", sourceID, err)
	}
	runs := make([]model.SyncRun, len(flats))
	for i, f := range flats {
		runs[i] = f.toModel()
	}
	return runs, nil
}

// IsRunning reports whether a source has a SyncRun currently in progress —
// the database-level truth backing the distributed lock's best effort.
func (s *Store) IsRunning(ctx context.Context, sourceID string) (bool, error) {
	var count int
	const query = `SELECT count(*) FROM sync_runs WHERE source_id = $1 AND status = $2`
	if err := s.db.GetContext(ctx, &count, query, sourceID, model.SyncRunRunning); err != nil {
		return false, fmt.Errorf("check running sync for source %s: %w", sourceID, err)
	}
	return count > 0, nil
}

// UpdateProgress reflects a connector's live scan/emit counters onto the run.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, scanned, emitted int) error {
	const query = `UPDATE sync_runs SET documents_scanned = $1, documents_emitted = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, scanned, emitted, id); err != nil {
		return fmt.Errorf("update sync run %s progress: %w", id, err)
	}
	return nil
}

// SetCompleted marks a run completed and persists the connector's final state.
func (s *Store) SetCompleted(ctx context.Context, id uuid.UUID, sourceID string, state model.ConnectorState) error {
	return s.finish(ctx, id, sourceID, model.SyncRunCompleted, nil, state)
}

// SetFailed marks a run failed; the connector's prior state is left intact.
func (s *Store) SetFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.finish(ctx, id, "", model.SyncRunFailed, &errMsg, nil)
}

// SetCancelled marks a run cancelled in response to a cooperative cancellation signal.
func (s *Store) SetCancelled(ctx context.Context, id uuid.UUID) error {
	errMsg := "Cancelled"
	return s.finish(ctx, id, "", model.SyncRunCancelled, &errMsg, nil)
}

func (s *Store) finish(ctx context.Context, id uuid.UUID, sourceID string, status model.SyncRunStatus, errMsg *string, state model.ConnectorState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync run completion transaction: %w", err)
	}
	now := time.Now().UTC()
	const query = `UPDATE sync_runs SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`
	if _, err := tx.ExecContext(ctx, query, status, errMsg, now, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("set sync run %s status %s: %w", id, status, err)
	}
	if state != nil {
		if err := saveStateTx(ctx, tx, sourceID, state); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync run completion transaction: %w", err)
	}
	return nil
}

// GetState loads a source's last-persisted ConnectorState, or an empty map
// if the source has never checkpointed.
func (s *Store) GetState(ctx context.Context, sourceID string) (model.ConnectorState, error) {
	var raw []byte
	const query = `SELECT state FROM connector_states WHERE source_id = $1`
	if err := s.db.GetContext(ctx, &raw, query, sourceID); err != nil {
		if err == sql.ErrNoRows {
			return model.ConnectorState{}, nil
		}
		return nil, fmt.Errorf("load connector state for source %s: %w", sourceID, err)
	}
	var state model.ConnectorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal connector state for source %s: %w", sourceID, err)
	}
	return state, nil
}

// SaveState persists a mid-sync checkpoint outside of any run-completion
// transaction, used by the checkpoint-interval path.
func (s *Store) SaveState(ctx context.Context, sourceID string, state model.ConnectorState) error {
	const query = `
		INSERT INTO connector_states (source_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal connector state for source %s: %w", sourceID, err)
	}
	if _, err := s.db.ExecContext(ctx, query, sourceID, stateJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("save connector state for source %s: %w", sourceID, err)
	}
	return nil
}

func saveStateTx(ctx context.Context, tx *sqlx.Tx, sourceID string, state model.ConnectorState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal connector state for source %s: %w", sourceID, err)
	}
	const query = `
		INSERT INTO connector_states (source_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, query, sourceID, stateJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("save connector state for source %s: %w", sourceID, err)
	}
	return nil
}
