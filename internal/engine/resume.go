// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
	"github.com/operato/workflow-engine/internal/metrics"
)

type approvalOutput struct {
	Decision  domain.ApprovalStatus `json:"decision"`
	Comment   string                `json:"comment,omitempty"`
	DecidedBy uuid.UUID             `json:"decided_by"`
	DecidedAt time.Time             `json:"decided_at"`
}

// ResolveApproval applies a human decision to a pending approval and
// resumes the owning run. Only the requested approver within the owning
// tenant may decide; a second decision gets ErrAlreadyDecided and changes
// nothing. Approval completes the suspended step and continues the run;
// rejection fails the step and terminates the run.
func (e *Engine) ResolveApproval(
	ctx context.Context,
	tenantID uuid.UUID,
	actorID uuid.UUID,
	approvalID uuid.UUID,
	decision domain.ApprovalStatus,
	comment string,
) error {
	if decision != domain.ApprovalApproved && decision != domain.ApprovalRejected {
		return domain.ErrInvalidDecision
	}

	approval, err := e.store.GetApproval(ctx, tenantID, approvalID)
	if err != nil {
		return err
	}
	if approval.RequestedFrom != actorID {
		e.logger.Warn("approval decision rejected: wrong actor",
			"approval_id", approvalID,
			"requested_from", approval.RequestedFrom,
			"actor_id", actorID,
		)
		return domain.ErrNotAuthorized
	}

	decided, err := e.store.DecideApproval(ctx, tenantID, approvalID, decision, comment, actorID)
	if err != nil {
		return err
	}
	if !decided {
		// The decision is already on record. An earlier call may have been
		// interrupted between recording it and moving the step, so finish
		// whatever part of the transition is still missing before reporting
		// the conflict.
		recorded, err := e.store.GetApproval(ctx, tenantID, approvalID)
		if err != nil {
			return err
		}
		if err := e.settleDecidedApproval(ctx, recorded); err != nil {
			return err
		}
		if recorded.Status != decision {
			return domain.ErrAlreadyDecided
		}
		return nil
	}

	metrics.IncApprovalDecision(string(decision))
	e.logger.Info("approval decided",
		"approval_id", approvalID,
		"run_id", approval.RunID,
		"decision", decision,
	)

	now := time.Now().UTC()
	approval.Status = decision
	approval.Comment = comment
	approval.DecidedBy = &actorID
	approval.DecidedAt = &now

	return e.applyApprovalDecision(ctx, approval)
}

// applyApprovalDecision moves a decided approval's step and run forward:
// rejection fails the step and terminates the run, approval completes the
// suspended step and continues execution.
func (e *Engine) applyApprovalDecision(ctx context.Context, approval domain.Approval) error {
	if approval.Status == domain.ApprovalRejected {
		reason := "approval rejected"
		if approval.Comment != "" {
			reason = fmt.Sprintf("approval rejected: %s", approval.Comment)
		}
		if err := e.store.FailStep(ctx, approval.TenantID, approval.StepExecutionID, reason); err != nil {
			return err
		}
		metrics.IncStepStatus(string(domain.StepFailed))
		return e.markRunFailed(ctx, approval.TenantID, approval.RunID, reason)
	}

	decidedBy := uuid.Nil
	if approval.DecidedBy != nil {
		decidedBy = *approval.DecidedBy
	}
	decidedAt := time.Now().UTC()
	if approval.DecidedAt != nil {
		decidedAt = *approval.DecidedAt
	}

	output, _ := json.Marshal(approvalOutput{
		Decision:  approval.Status,
		Comment:   approval.Comment,
		DecidedBy: decidedBy,
		DecidedAt: decidedAt,
	})

	if err := e.completeSuspendedStep(ctx, approval.TenantID, approval.RunID, approval.StepExecutionID, output); err != nil {
		return err
	}

	return e.ExecuteWorkflow(ctx, approval.TenantID, approval.RunID)
}

// settleDecidedApproval re-drives the step and run transition for an
// approval whose decision is recorded. It is a no-op when the earlier call
// finished its work; otherwise it picks up where that call was cut off.
func (e *Engine) settleDecidedApproval(ctx context.Context, approval domain.Approval) error {
	step, err := e.store.GetStepExecution(ctx, approval.TenantID, approval.StepExecutionID)
	if err != nil {
		return err
	}

	switch step.Status {
	case domain.StepWaitingApproval:
		// Decision recorded but the step never moved.
		return e.applyApprovalDecision(ctx, approval)

	case domain.StepFailed:
		run, err := e.store.GetRun(ctx, approval.TenantID, approval.RunID)
		if err != nil {
			return err
		}
		if run.Status == domain.RunRunning {
			return e.markRunFailed(ctx, approval.TenantID, approval.RunID, step.ErrorMessage)
		}

	case domain.StepCompleted:
		run, err := e.store.GetRun(ctx, approval.TenantID, approval.RunID)
		if err != nil {
			return err
		}
		if run.Status == domain.RunRunning {
			return e.ExecuteWorkflow(ctx, approval.TenantID, approval.RunID)
		}
	}

	return nil
}

// ResolveIntegrationCallback applies an external collaborator's reported
// outcome to the integration step it correlates with (by call id) and
// resumes the run, mirroring the approval path with the callback's status
// in place of a human decision.
func (e *Engine) ResolveIntegrationCallback(
	ctx context.Context,
	callID string,
	succeeded bool,
	output json.RawMessage,
) error {
	step, err := e.store.FindStepByCallID(ctx, callID)
	if err != nil {
		return err
	}
	if step.Status != domain.StepWaitingCallback {
		return e.settleResolvedCallback(ctx, step, succeeded)
	}

	if !succeeded {
		reason := "integration call failed"
		if len(output) > 0 {
			reason = fmt.Sprintf("integration call failed: %s", output)
		}
		if err := e.store.FailStep(ctx, step.TenantID, step.ID, reason); err != nil {
			return err
		}
		metrics.IncStepStatus(string(domain.StepFailed))
		return e.markRunFailed(ctx, step.TenantID, step.RunID, reason)
	}

	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	if err := e.completeSuspendedStep(ctx, step.TenantID, step.RunID, step.ID, output); err != nil {
		return err
	}

	return e.ExecuteWorkflow(ctx, step.TenantID, step.RunID)
}

// settleResolvedCallback handles a callback whose step already left the
// waiting state. When an earlier delivery was cut off after moving the step
// but before finishing the run transition, the redelivery completes it; a
// matching redelivery then reads as success, a conflicting one as a replay.
func (e *Engine) settleResolvedCallback(ctx context.Context, step domain.StepExecution, succeeded bool) error {
	run, err := e.store.GetRun(ctx, step.TenantID, step.RunID)
	if err != nil {
		return err
	}

	if run.Status == domain.RunRunning {
		switch step.Status {
		case domain.StepCompleted:
			if err := e.ExecuteWorkflow(ctx, step.TenantID, step.RunID); err != nil {
				return err
			}
		case domain.StepFailed:
			if err := e.markRunFailed(ctx, step.TenantID, step.RunID, step.ErrorMessage); err != nil {
				return err
			}
		}
	}

	switch {
	case step.Status == domain.StepCompleted && succeeded:
		return nil
	case step.Status == domain.StepFailed && !succeeded:
		return nil
	}
	return domain.ErrAlreadyDecided
}

// ResumeDelayedStep closes out a delay step whose deadline passed and
// continues the run. A step that is no longer waiting (a concurrent sweep
// got there first, or the run was cancelled) is left alone.
func (e *Engine) ResumeDelayedStep(ctx context.Context, step domain.StepExecution) error {
	current, err := e.store.GetStepExecution(ctx, step.TenantID, step.ID)
	if err != nil {
		return err
	}
	if current.Status != domain.StepWaitingDelay {
		return nil
	}

	output, _ := json.Marshal(map[string]string{
		"resumed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err := e.completeSuspendedStep(ctx, step.TenantID, step.RunID, step.ID, output); err != nil {
		return err
	}

	return e.ExecuteWorkflow(ctx, step.TenantID, step.RunID)
}

// completeSuspendedStep closes out a waiting step with the resolved output
// and the sequential next position from the run's definition.
func (e *Engine) completeSuspendedStep(
	ctx context.Context,
	tenantID, runID, stepExecutionID uuid.UUID,
	output json.RawMessage,
) error {
	step, err := e.store.GetStepExecution(ctx, tenantID, stepExecutionID)
	if err != nil {
		return err
	}

	run, err := e.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return err
	}
	def, err := e.store.GetDefinition(ctx, tenantID, run.WorkflowID)
	if err != nil {
		return err
	}

	next := def.NextAfter(step.Position)
	if err := e.store.CompleteStep(ctx, tenantID, stepExecutionID, output, next); err != nil {
		return err
	}
	metrics.IncStepStatus(string(domain.StepCompleted))
	return nil
}
