package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = port.ErrRunNotFound

// RunRepository implements port.RunRepository
type RunRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sqlite.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a run in RUNNING state and sets its ID and CreatedAt
func (r *RunRepository) Create(ctx context.Context, run *entity.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (source, status, error, seed, stream, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if run.Status == "" {
		run.Status = entity.RunStatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		run.Source,
		run.Status,
		run.Error,
		int64(run.Seed),
		int64(run.Stream),
		run.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create run", zap.String("source", run.Source), zap.Error(err))
		return fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// AppendSnapshot stores one record version of a run
func (r *RunRepository) AppendSnapshot(ctx context.Context, snapshot *entity.RunSnapshot) error {
	query := `
		INSERT INTO run_snapshots (run_id, seq, step, stage, record_json, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	recordJSON, err := json.Marshal(snapshot.Record)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		snapshot.RunID,
		snapshot.Seq,
		snapshot.Step,
		string(snapshot.Stage),
		string(recordJSON),
		snapshot.Duration.Milliseconds(),
	)
	if err != nil {
		r.logger.Error("Failed to append snapshot",
			zap.Int64("run_id", snapshot.RunID),
			zap.Int("seq", snapshot.Seq),
			zap.Error(err))
		return fmt.Errorf("failed to append snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	snapshot.ID = id
	return nil
}

// Finish sets the terminal status of a run
func (r *RunRepository) Finish(ctx context.Context, id int64, status, errMsg string) error {
	query := `
		UPDATE pipeline_runs
		SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, status, errMsg, r.now(), id)
	if err != nil {
		r.logger.Error("Failed to finish run", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to finish run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// GetByID retrieves a run
func (r *RunRepository) GetByID(ctx context.Context, id int64) (*entity.PipelineRun, error) {
	query := `
		SELECT id, source, status, error, seed, stream, created_at, finished_at
		FROM pipeline_runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get run", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns runs, newest first
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]*entity.PipelineRun, error) {
	query := `
		SELECT id, source, status, error, seed, stream, created_at, finished_at
		FROM pipeline_runs
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list runs", zap.Error(err))
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*entity.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListSnapshots returns the record versions of a run in append order
func (r *RunRepository) ListSnapshots(ctx context.Context, runID int64) ([]*entity.RunSnapshot, error) {
	query := `
		SELECT id, run_id, seq, step, stage, record_json, duration_ms
		FROM run_snapshots
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, runID)
	if err != nil {
		r.logger.Error("Failed to list snapshots", zap.Int64("run_id", runID), zap.Error(err))
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*entity.RunSnapshot
	for rows.Next() {
		var (
			s          entity.RunSnapshot
			stage      string
			recordJSON string
			durationMS int64
		)
		if err := rows.Scan(&s.ID, &s.RunID, &s.Seq, &s.Step, &stage, &recordJSON, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(recordJSON), &s.Record); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", s.ID, err)
		}
		s.Stage = workflow.State(stage)
		s.Duration = time.Duration(durationMS) * time.Millisecond
		snapshots = append(snapshots, &s)
	}
	return snapshots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*entity.PipelineRun, error) {
	var (
		run        entity.PipelineRun
		seed       int64
		stream     int64
		finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Source, &run.Status, &run.Error, &seed, &stream, &run.CreatedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Seed = uint64(seed)
	run.Stream = uint64(stream)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
