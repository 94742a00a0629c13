// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
)

// Store is the tenant-scoped persistence the engine runs on. Every method
// takes the owning tenant explicitly; implementations must reject
// cross-tenant access in addition to any row-level isolation the database
// itself enforces.
type Store interface {
	// Definitions (read-only to the engine).
	GetDefinition(ctx context.Context, tenantID, workflowID uuid.UUID) (domain.WorkflowDefinition, error)
	ListActiveDefinitions(ctx context.Context, tenantID uuid.UUID, triggerType string) ([]domain.WorkflowDefinition, error)

	// Runs.
	CreateRun(ctx context.Context, params domain.CreateRunParams) (uuid.UUID, error)
	GetRun(ctx context.Context, tenantID, runID uuid.UUID) (domain.WorkflowRun, error)
	MarkRunCompleted(ctx context.Context, tenantID, runID uuid.UUID) error
	MarkRunFailed(ctx context.Context, tenantID, runID uuid.UUID, reason string) error

	// Step executions: the checkpoint unit. ClaimStep is a compare-and-set:
	// it inserts the execution row or transitions a claimable row to
	// running, and reports false when a concurrent invocation owns the
	// step or it already completed.
	ListStepExecutions(ctx context.Context, tenantID, runID uuid.UUID) ([]domain.StepExecution, error)
	GetStepExecution(ctx context.Context, tenantID, stepExecutionID uuid.UUID) (domain.StepExecution, error)
	ClaimStep(ctx context.Context, tenantID, runID uuid.UUID, position int, kind domain.StepKind) (domain.StepExecution, bool, error)
	// ReleaseStep hands a running claim back to pending so a later
	// invocation can claim it again. Rows no longer running are untouched.
	ReleaseStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID) error
	CompleteStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, output json.RawMessage, nextPosition int) error
	SuspendStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, status domain.StepStatus, callID string, resumeAt *time.Time) error
	FailStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, errorMessage string) error
	FindStepByCallID(ctx context.Context, callID string) (domain.StepExecution, error)

	// Approvals. DecideApproval is a compare-and-set from pending; it
	// reports false when the approval was already decided.
	CreateApproval(ctx context.Context, params domain.CreateApprovalParams) (uuid.UUID, error)
	GetApproval(ctx context.Context, tenantID, approvalID uuid.UUID) (domain.Approval, error)
	DecideApproval(ctx context.Context, tenantID, approvalID uuid.UUID, status domain.ApprovalStatus, comment string, decidedBy uuid.UUID) (bool, error)
}
