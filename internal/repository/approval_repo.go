// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/operato/workflow-engine/internal/domain"
)

type ApprovalRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewApprovalRepository(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ApprovalRepository{
		pool:   pool,
		logger: logger,
	}
}

const approvalColumns = `id, step_execution_id, run_id, tenant_id, requested_from,
	COALESCE(message, ''), status, COALESCE(comment, ''), decided_by, decided_at, created_at`

func (r *ApprovalRepository) CreateApproval(ctx context.Context, params domain.CreateApprovalParams) (uuid.UUID, error) {
	approvalID := uuid.New()

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_approvals (id, step_execution_id, run_id, tenant_id, requested_from, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		approvalID,
		params.StepExecutionID,
		params.RunID,
		params.TenantID,
		params.RequestedFrom,
		params.Message,
		domain.ApprovalPending,
	); err != nil {
		r.logger.Error("create approval failed",
			"run_id", params.RunID,
			"step_execution_id", params.StepExecutionID,
			"error", err,
		)
		return uuid.Nil, err
	}

	return approvalID, nil
}

func (r *ApprovalRepository) GetApproval(ctx context.Context, tenantID, approvalID uuid.UUID) (domain.Approval, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+approvalColumns+`
		FROM workflow_approvals
		WHERE id=$1 AND tenant_id=$2
	`, approvalID, tenantID)

	approval, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Approval{}, domain.ErrApprovalNotFound
		}
		r.logger.Error("get approval failed", "approval_id", approvalID, "error", err)
		return domain.Approval{}, err
	}

	return approval, nil
}

// ListPendingApprovals returns the approvals waiting on a specific user,
// oldest first. This backs the approver's inbox.
func (r *ApprovalRepository) ListPendingApprovals(ctx context.Context, tenantID, requestedFrom uuid.UUID) ([]domain.Approval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+approvalColumns+`
		FROM workflow_approvals
		WHERE tenant_id=$1 AND requested_from=$2 AND status=$3
		ORDER BY created_at ASC
	`, tenantID, requestedFrom, domain.ApprovalPending)
	if err != nil {
		r.logger.Error("list pending approvals query failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Approval, 0, 8)
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// DecideApproval transitions a pending approval to its final status. The
// status guard in the WHERE clause makes first-decision-wins atomic: a
// second caller affects zero rows and gets decided=false.
func (r *ApprovalRepository) DecideApproval(ctx context.Context, tenantID, approvalID uuid.UUID, status domain.ApprovalStatus, comment string, decidedBy uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_approvals
		SET status=$3, comment=$4, decided_by=$5, decided_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND status=$6
	`, approvalID, tenantID, status, comment, decidedBy, domain.ApprovalPending)
	if err != nil {
		r.logger.Error("decide approval failed", "approval_id", approvalID, "error", err)
		return false, err
	}

	if tag.RowsAffected() == 0 {
		var exists int
		err := r.pool.QueryRow(ctx,
			`SELECT 1 FROM workflow_approvals WHERE id=$1 AND tenant_id=$2`,
			approvalID, tenantID,
		).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrApprovalNotFound
		}
		if err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func scanApproval(row pgx.Row) (domain.Approval, error) {
	var approval domain.Approval
	if err := row.Scan(
		&approval.ID,
		&approval.StepExecutionID,
		&approval.RunID,
		&approval.TenantID,
		&approval.RequestedFrom,
		&approval.Message,
		&approval.Status,
		&approval.Comment,
		&approval.DecidedBy,
		&approval.DecidedAt,
		&approval.CreatedAt,
	); err != nil {
		return domain.Approval{}, err
	}
	return approval, nil
}
