// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/operato/workflow-engine/internal/domain"
)

const pgUniqueViolation = "23505"

type RunRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRunRepository(pool *pgxpool.Pool, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &RunRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateRun inserts a new run in the running state. A duplicate
// (tenant, workflow, trigger event) insert hits the partial unique index
// and maps to ErrDuplicateTrigger, which is how redelivered events are
// suppressed.
func (r *RunRepository) CreateRun(ctx context.Context, params domain.CreateRunParams) (uuid.UUID, error) {
	runID := uuid.New()

	triggerData := params.TriggerData
	if len(triggerData) == 0 {
		triggerData = []byte(`{}`)
	}

	var eventID *string
	if params.TriggerEventID != "" {
		eventID = &params.TriggerEventID
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, tenant_id, triggered_by, trigger_event_id, trigger_data, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		runID,
		params.WorkflowID,
		params.TenantID,
		params.TriggeredBy,
		eventID,
		triggerData,
		domain.RunRunning,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return uuid.Nil, domain.ErrDuplicateTrigger
		}
		r.logger.Error("insert run failed",
			"workflow_id", params.WorkflowID,
			"tenant_id", params.TenantID,
			"error", err,
		)
		return uuid.Nil, err
	}

	return runID, nil
}

func (r *RunRepository) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (domain.WorkflowRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, workflow_id, tenant_id, triggered_by, COALESCE(trigger_event_id, ''),
		       trigger_data, status, COALESCE(error_message, ''), created_at, completed_at
		FROM workflow_runs
		WHERE id=$1 AND tenant_id=$2
	`, runID, tenantID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowRun{}, domain.ErrRunNotFound
		}
		r.logger.Error("get run failed", "run_id", runID, "error", err)
		return domain.WorkflowRun{}, err
	}

	return run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, tenantID uuid.UUID, workflowID uuid.UUID, limit int) ([]domain.WorkflowRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, tenant_id, triggered_by, COALESCE(trigger_event_id, ''),
		       trigger_data, status, COALESCE(error_message, ''), created_at, completed_at
		FROM workflow_runs
		WHERE tenant_id=$1
		  AND ($2::uuid IS NULL OR workflow_id=$2)
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, nullableUUID(workflowID), limit)
	if err != nil {
		r.logger.Error("list runs query failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkflowRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *RunRepository) MarkRunCompleted(ctx context.Context, tenantID, runID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET status=$3, completed_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND status=$4
	`, runID, tenantID, domain.RunCompleted, domain.RunRunning)
	if err != nil {
		r.logger.Error("mark run completed failed", "run_id", runID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) MarkRunFailed(ctx context.Context, tenantID, runID uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET status=$3, error_message=$4, completed_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND status=$5
	`, runID, tenantID, domain.RunFailed, reason, domain.RunRunning)
	if err != nil {
		r.logger.Error("mark run failed failed", "run_id", runID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// CancelRun is terminal and idempotent: a run that already finished keeps
// its status, pending approvals are withdrawn, and waiting steps are
// failed so the scheduler and callback surfaces skip them.
func (r *RunRepository) CancelRun(ctx context.Context, tenantID, runID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	var status domain.RunStatus
	if err := tx.QueryRow(ctx,
		`SELECT status FROM workflow_runs WHERE id=$1 AND tenant_id=$2`,
		runID, tenantID,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRunNotFound
		}
		r.logger.Error("read run status failed", "run_id", runID, "error", err)
		return err
	}

	if status.Terminal() {
		r.logger.Info("cancel skipped (terminal)", "run_id", runID, "status", status)
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workflow_runs
		SET status=$3, completed_at=NOW()
		WHERE id=$1 AND tenant_id=$2
	`, runID, tenantID, domain.RunCancelled); err != nil {
		r.logger.Error("update run cancel failed", "run_id", runID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status=$2, error_message='run cancelled', completed_at=NOW()
		WHERE run_id=$1
		  AND status IN ($3, $4, $5, $6, $7)
	`,
		runID,
		domain.StepFailed,
		domain.StepPending,
		domain.StepRunning,
		domain.StepWaitingApproval,
		domain.StepWaitingCallback,
		domain.StepWaitingDelay,
	); err != nil {
		r.logger.Error("cancel steps failed", "run_id", runID, "error", err)
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workflow_approvals
		SET status=$2, comment='run cancelled', decided_at=NOW()
		WHERE run_id=$1 AND status=$3
	`, runID, domain.ApprovalRejected, domain.ApprovalPending); err != nil {
		r.logger.Error("withdraw approvals failed", "run_id", runID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit cancel failed", "run_id", runID, "error", err)
		return err
	}

	r.logger.Info("run cancelled", "run_id", runID)
	return nil
}

func scanRun(row pgx.Row) (domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	if err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.TenantID,
		&run.TriggeredBy,
		&run.TriggerEventID,
		&run.TriggerData,
		&run.Status,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.CompletedAt,
	); err != nil {
		return domain.WorkflowRun{}, err
	}
	return run, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
