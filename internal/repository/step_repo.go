// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/operato/workflow-engine/internal/domain"
)

type StepRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStepRepository(pool *pgxpool.Pool, logger *slog.Logger) *StepRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &StepRepository{
		pool:   pool,
		logger: logger,
	}
}

const stepColumns = `id, run_id, tenant_id, position, kind, status, output,
	COALESCE(error_message, ''), COALESCE(next_position, 0), COALESCE(call_id, ''),
	resume_at, started_at, completed_at`

func (r *StepRepository) ListStepExecutions(ctx context.Context, tenantID, runID uuid.UUID) ([]domain.StepExecution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_step_executions
		WHERE run_id=$1 AND tenant_id=$2
		ORDER BY position ASC
	`, runID, tenantID)
	if err != nil {
		r.logger.Error("list step executions query failed", "run_id", runID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StepExecution, 0, 8)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *StepRepository) GetStepExecution(ctx context.Context, tenantID, stepExecutionID uuid.UUID) (domain.StepExecution, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_step_executions
		WHERE id=$1 AND tenant_id=$2
	`, stepExecutionID, tenantID)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StepExecution{}, domain.ErrStepNotFound
		}
		r.logger.Error("get step execution failed", "step_execution_id", stepExecutionID, "error", err)
		return domain.StepExecution{}, err
	}

	return step, nil
}

// ClaimStep is the dispatch compare-and-set. It inserts the execution row
// in the running state, or transitions an existing pending row; the
// (run_id, position) unique index makes concurrent claims race on a single
// row, so exactly one caller wins.
func (r *StepRepository) ClaimStep(ctx context.Context, tenantID, runID uuid.UUID, position int, kind domain.StepKind) (domain.StepExecution, bool, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO workflow_step_executions (id, run_id, tenant_id, position, kind, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (run_id, position) DO UPDATE
			SET status=$6, started_at=NOW()
			WHERE workflow_step_executions.status=$7
		RETURNING `+stepColumns+`
	`,
		uuid.New(),
		runID,
		tenantID,
		position,
		kind,
		domain.StepRunning,
		domain.StepPending,
	)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict row exists but is not pending: someone else owns it.
			return domain.StepExecution{}, false, nil
		}
		r.logger.Error("claim step failed",
			"run_id", runID,
			"position", position,
			"error", err,
		)
		return domain.StepExecution{}, false, err
	}

	return step, true, nil
}

// ReleaseStep returns a running claim to pending so the run can be retried
// after a transient executor failure. Guarded on the running status: a row
// that already completed, failed, or suspended keeps its state.
func (r *StepRepository) ReleaseStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status=$3, started_at=NULL
		WHERE id=$1 AND tenant_id=$2 AND status=$4
	`, stepExecutionID, tenantID, domain.StepPending, domain.StepRunning)
	if err != nil {
		r.logger.Error("release step failed", "step_execution_id", stepExecutionID, "error", err)
		return err
	}
	return nil
}

func (r *StepRepository) CompleteStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, output json.RawMessage, nextPosition int) error {
	if len(output) == 0 {
		output = []byte(`{}`)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status=$3, output=$4, next_position=$5, completed_at=NOW()
		WHERE id=$1 AND tenant_id=$2
	`, stepExecutionID, tenantID, domain.StepCompleted, output, nextPosition)
	if err != nil {
		r.logger.Error("complete step failed", "step_execution_id", stepExecutionID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStepNotFound
	}
	return nil
}

func (r *StepRepository) SuspendStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, status domain.StepStatus, callID string, resumeAt *time.Time) error {
	var callIDArg *string
	if callID != "" {
		callIDArg = &callID
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status=$3, call_id=$4, resume_at=$5
		WHERE id=$1 AND tenant_id=$2
	`, stepExecutionID, tenantID, status, callIDArg, resumeAt)
	if err != nil {
		r.logger.Error("suspend step failed", "step_execution_id", stepExecutionID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStepNotFound
	}
	return nil
}

func (r *StepRepository) FailStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status=$3, error_message=$4, completed_at=NOW()
		WHERE id=$1 AND tenant_id=$2
	`, stepExecutionID, tenantID, domain.StepFailed, errorMessage)
	if err != nil {
		r.logger.Error("fail step failed", "step_execution_id", stepExecutionID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStepNotFound
	}
	return nil
}

// FindStepByCallID resolves an integration callback to its suspended step.
// Call ids are generated per dispatch, so tenant scoping comes from the row
// itself rather than the caller.
func (r *StepRepository) FindStepByCallID(ctx context.Context, callID string) (domain.StepExecution, error) {
	if callID == "" {
		return domain.StepExecution{}, domain.ErrCallNotFound
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_step_executions
		WHERE call_id=$1
	`, callID)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StepExecution{}, domain.ErrCallNotFound
		}
		r.logger.Error("find step by call id failed", "call_id", callID, "error", err)
		return domain.StepExecution{}, err
	}

	return step, nil
}

// ListDueDelaySteps returns delay steps whose deadline has passed, oldest
// first. The scheduler resumes each one; a duplicate sweep is harmless
// because resumption rechecks the step status.
func (r *StepRepository) ListDueDelaySteps(ctx context.Context, now time.Time, limit int) ([]domain.StepExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_step_executions
		WHERE status=$1 AND resume_at <= $2
		ORDER BY resume_at ASC
		LIMIT $3
	`, domain.StepWaitingDelay, now, limit)
	if err != nil {
		r.logger.Error("list due delay steps query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StepExecution, 0, limit)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanStep(row pgx.Row) (domain.StepExecution, error) {
	var step domain.StepExecution
	if err := row.Scan(
		&step.ID,
		&step.RunID,
		&step.TenantID,
		&step.Position,
		&step.Kind,
		&step.Status,
		&step.Output,
		&step.ErrorMessage,
		&step.NextPosition,
		&step.CallID,
		&step.ResumeAt,
		&step.StartedAt,
		&step.CompletedAt,
	); err != nil {
		return domain.StepExecution{}, err
	}
	return step, nil
}
