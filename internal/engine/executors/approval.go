// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
)

type approvalConfig struct {
	ApproverID uuid.UUID `json:"approver_id"`
	Message    string    `json:"message,omitempty"`
}

// ApprovalExecutor creates the pending decision record and suspends the
// run. It never completes the step itself; only the resume protocol,
// driven by the approver's decision, closes it out.
type ApprovalExecutor struct {
	Approvals ApprovalCreator
}

func (e *ApprovalExecutor) Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (Outcome, error) {
	var cfg approvalConfig
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return Failed(fmt.Sprintf("invalid approval config: %v", err)), nil
	}
	if cfg.ApproverID == uuid.Nil {
		return Failed("approval config missing approver_id"), nil
	}

	if _, err := e.Approvals.CreateApproval(ctx, domain.CreateApprovalParams{
		TenantID:        sc.TenantID,
		RunID:           sc.RunID,
		StepExecutionID: sc.StepExecutionID,
		RequestedFrom:   cfg.ApproverID,
		Message:         cfg.Message,
	}); err != nil {
		// Store unavailability is transient: surface it so the caller can
		// retry the invocation instead of failing the step.
		return Outcome{}, err
	}

	return Suspended(domain.StepWaitingApproval), nil
}
