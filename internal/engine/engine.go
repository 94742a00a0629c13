// SPDX-License-Identifier: Apache-2.0

// Package engine is the workflow automation core: it matches fired business
// events to tenant-defined definitions, walks a run's steps forward from
// the first incomplete position, and suspends/resumes runs around human
// approvals, integration callbacks, and delays. All run progress lives in
// persisted step executions; a suspended run holds no process memory.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
	execs "github.com/operato/workflow-engine/internal/engine/executors"
	"github.com/operato/workflow-engine/internal/metrics"
)

type Deps struct {
	Store      Store
	Logger     *slog.Logger
	Actions    execs.ActionSink
	Dispatcher execs.CallDispatcher
}

type Engine struct {
	store     Store
	logger    *slog.Logger
	executors map[domain.StepKind]execs.StepExecutor
}

func New(deps Deps) *Engine {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	registry := map[domain.StepKind]execs.StepExecutor{
		domain.StepAction:          &execs.ActionExecutor{Sink: deps.Actions},
		domain.StepCondition:       &execs.ConditionExecutor{},
		domain.StepApproval:        &execs.ApprovalExecutor{Approvals: deps.Store},
		domain.StepIntegrationCall: &execs.IntegrationExecutor{Dispatcher: deps.Dispatcher},
		domain.StepDelay:           &execs.DelayExecutor{},
	}

	return &Engine{
		store:     deps.Store,
		logger:    l,
		executors: registry,
	}
}

// ExecuteWorkflow runs a workflow run forward until it completes, fails, or
// suspends on an external event. It is also the resumption entry point:
// because the cursor is always derived from persisted step executions,
// re-invoking it never re-dispatches a completed step.
//
// A returned error is infrastructural (store unavailable mid-update) and
// the whole invocation is safe to retry; step and run failures are
// recorded on their rows and return nil.
func (e *Engine) ExecuteWorkflow(ctx context.Context, tenantID, runID uuid.UUID) error {
	run, err := e.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return err
	}

	def, err := e.store.GetDefinition(ctx, tenantID, run.WorkflowID)
	if err != nil {
		return err
	}

	var triggerData map[string]any
	if len(run.TriggerData) > 0 {
		if err := json.Unmarshal(run.TriggerData, &triggerData); err != nil {
			e.logger.Warn("trigger data is not a json object",
				"run_id", runID,
				"error", err,
			)
		}
	}

	for {
		// Cancellation (or any terminal transition) stops the loop before
		// the next dispatch; a mid-flight step is never interrupted.
		if run.Status != domain.RunRunning {
			return domain.ErrRunNotRunning
		}

		steps, err := e.store.ListStepExecutions(ctx, tenantID, runID)
		if err != nil {
			return err
		}

		byPos := make(map[int]domain.StepExecution, len(steps))
		for _, s := range steps {
			byPos[s.Position] = s
		}

		cursor, done, walkErr := nextCursor(def, byPos)
		if walkErr != nil {
			return e.markRunFailed(ctx, tenantID, runID, walkErr.Error())
		}
		if done {
			if err := e.store.MarkRunCompleted(ctx, tenantID, runID); err != nil {
				return err
			}
			metrics.IncRunStatus(string(domain.RunCompleted))
			e.logger.Info("run completed", "run_id", runID, "workflow_id", run.WorkflowID)
			return nil
		}

		if existing, ok := byPos[cursor]; ok && existing.Status.Waiting() {
			// Already suspended; the resume protocols own the next move.
			return nil
		}

		spec, ok := def.StepAt(cursor)
		if !ok {
			return e.markRunFailed(ctx, tenantID, runID, domain.ErrInvalidBranchTarget.Error())
		}

		claimed, ok, err := e.store.ClaimStep(ctx, tenantID, runID, cursor, spec.Kind)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Debug("step claim lost to concurrent invocation",
				"run_id", runID,
				"position", cursor,
			)
			return nil
		}

		executor, ok := e.executors[spec.Kind]
		if !ok {
			msg := fmt.Sprintf("%v: %s", domain.ErrUnknownStepKind, spec.Kind)
			if err := e.store.FailStep(ctx, tenantID, claimed.ID, msg); err != nil {
				return err
			}
			metrics.IncStepStatus(string(domain.StepFailed))
			return e.markRunFailed(ctx, tenantID, runID, msg)
		}

		sc := execs.StepContext{
			TenantID:        tenantID,
			RunID:           runID,
			StepExecutionID: claimed.ID,
			TriggeredBy:     run.TriggeredBy,
			TriggerData:     triggerData,
			PriorOutputs:    completedOutputs(byPos),
		}

		started := time.Now()
		outcome, execErr := executor.Execute(ctx, spec, sc)
		metrics.ObserveStepExecutionDuration(time.Since(started))
		if execErr != nil {
			// Transient infrastructure failure inside the executor: hand the
			// claim back so a retry can take the step again. Nothing is
			// recorded as a permanent step failure.
			if relErr := e.store.ReleaseStep(ctx, tenantID, claimed.ID); relErr != nil {
				e.logger.Error("releasing interrupted step claim failed",
					"run_id", runID,
					"position", cursor,
					"error", relErr,
				)
			}
			return fmt.Errorf("execute step %d of run %s: %w", cursor, runID, execErr)
		}

		switch outcome.Status {
		case execs.OutcomeCompleted:
			next := def.NextAfter(cursor)
			if outcome.NextPosition != nil {
				next = *outcome.NextPosition
				if !validTarget(def, next) {
					msg := fmt.Sprintf("%v: %d", domain.ErrInvalidBranchTarget, next)
					if err := e.store.FailStep(ctx, tenantID, claimed.ID, msg); err != nil {
						return err
					}
					metrics.IncStepStatus(string(domain.StepFailed))
					return e.markRunFailed(ctx, tenantID, runID, msg)
				}
			}

			if err := e.store.CompleteStep(ctx, tenantID, claimed.ID, outcome.Output, next); err != nil {
				return err
			}
			metrics.IncStepStatus(string(domain.StepCompleted))
			e.logger.Info("step completed",
				"run_id", runID,
				"position", cursor,
				"kind", spec.Kind,
				"next", next,
			)

		case execs.OutcomeSuspended:
			if err := e.store.SuspendStep(ctx, tenantID, claimed.ID, outcome.Waiting, outcome.CallID, outcome.ResumeAt); err != nil {
				return err
			}
			metrics.IncStepStatus(string(outcome.Waiting))
			e.logger.Info("run suspended",
				"run_id", runID,
				"position", cursor,
				"kind", spec.Kind,
				"waiting", outcome.Waiting,
			)
			return nil

		case execs.OutcomeFailed:
			if err := e.store.FailStep(ctx, tenantID, claimed.ID, outcome.ErrorMessage); err != nil {
				return err
			}
			metrics.IncStepStatus(string(domain.StepFailed))
			e.logger.Warn("step failed",
				"run_id", runID,
				"position", cursor,
				"kind", spec.Kind,
				"error", outcome.ErrorMessage,
			)
			return e.markRunFailed(ctx, tenantID, runID, outcome.ErrorMessage)

		default:
			return fmt.Errorf("executor for %s returned unknown outcome %q", spec.Kind, outcome.Status)
		}

		run, err = e.store.GetRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}
	}
}

func (e *Engine) markRunFailed(ctx context.Context, tenantID, runID uuid.UUID, reason string) error {
	if err := e.store.MarkRunFailed(ctx, tenantID, runID, reason); err != nil {
		return err
	}
	metrics.IncRunStatus(string(domain.RunFailed))
	e.logger.Warn("run failed", "run_id", runID, "error", reason)
	return nil
}

// nextCursor walks the checkpoint chain: start at the first position,
// follow each completed execution's recorded next position, and stop at
// the first position without a completed execution. done=true means the
// chain ran off the end of the definition.
func nextCursor(def domain.WorkflowDefinition, byPos map[int]domain.StepExecution) (int, bool, error) {
	end := def.LastPosition() + 1
	cursor := def.FirstPosition()
	visited := make(map[int]bool, len(def.Steps))

	for {
		if cursor == end {
			return 0, true, nil
		}
		if visited[cursor] {
			return 0, false, fmt.Errorf("step chain loops at position %d", cursor)
		}
		visited[cursor] = true

		if _, ok := def.StepAt(cursor); !ok {
			return 0, false, fmt.Errorf("%w: %d", domain.ErrInvalidBranchTarget, cursor)
		}

		exec, ok := byPos[cursor]
		if !ok || exec.Status != domain.StepCompleted {
			return cursor, false, nil
		}
		cursor = exec.NextPosition
	}
}

func validTarget(def domain.WorkflowDefinition, position int) bool {
	if position == def.LastPosition()+1 {
		return true
	}
	_, ok := def.StepAt(position)
	return ok
}

func completedOutputs(byPos map[int]domain.StepExecution) map[int]json.RawMessage {
	outputs := make(map[int]json.RawMessage, len(byPos))
	for pos, exec := range byPos {
		if exec.Status == domain.StepCompleted && len(exec.Output) > 0 {
			outputs[pos] = exec.Output
		}
	}
	return outputs
}
