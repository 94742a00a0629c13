// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
)

// fakeStore is an in-memory Store with the same compare-and-set semantics
// as the Postgres repositories.
type fakeStore struct {
	mu          sync.Mutex
	defs        map[uuid.UUID]domain.WorkflowDefinition
	runs        map[uuid.UUID]*domain.WorkflowRun
	steps       map[uuid.UUID]*domain.StepExecution
	approvals   map[uuid.UUID]*domain.Approval
	triggerKeys map[string]bool

	// error injection; the one-shot errors fire once and clear, modelling
	// a transient outage that heals before the retry.
	createRunErrFor   uuid.UUID
	createRunErr      error
	createApprovalErr error
	failStepErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		defs:        make(map[uuid.UUID]domain.WorkflowDefinition),
		runs:        make(map[uuid.UUID]*domain.WorkflowRun),
		steps:       make(map[uuid.UUID]*domain.StepExecution),
		approvals:   make(map[uuid.UUID]*domain.Approval),
		triggerKeys: make(map[string]bool),
	}
}

func (f *fakeStore) addDefinition(def domain.WorkflowDefinition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defs[def.ID] = def
}

func (f *fakeStore) GetDefinition(ctx context.Context, tenantID, workflowID uuid.UUID) (domain.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[workflowID]
	if !ok || def.TenantID != tenantID {
		return domain.WorkflowDefinition{}, domain.ErrWorkflowNotFound
	}
	return def, nil
}

func (f *fakeStore) ListActiveDefinitions(ctx context.Context, tenantID uuid.UUID, triggerType string) ([]domain.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WorkflowDefinition
	for _, def := range f.defs {
		if def.TenantID == tenantID && def.Active && def.TriggerType == triggerType {
			out = append(out, def)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, params domain.CreateRunParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createRunErr != nil && params.WorkflowID == f.createRunErrFor {
		return uuid.Nil, f.createRunErr
	}

	if params.TriggerEventID != "" {
		key := fmt.Sprintf("%s/%s/%s", params.TenantID, params.WorkflowID, params.TriggerEventID)
		if f.triggerKeys[key] {
			return uuid.Nil, domain.ErrDuplicateTrigger
		}
		f.triggerKeys[key] = true
	}

	run := &domain.WorkflowRun{
		ID:             uuid.New(),
		WorkflowID:     params.WorkflowID,
		TenantID:       params.TenantID,
		TriggeredBy:    params.TriggeredBy,
		TriggerEventID: params.TriggerEventID,
		TriggerData:    params.TriggerData,
		Status:         domain.RunRunning,
		CreatedAt:      time.Now(),
	}
	f.runs[run.ID] = run
	return run.ID, nil
}

func (f *fakeStore) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (domain.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.TenantID != tenantID {
		return domain.WorkflowRun{}, domain.ErrRunNotFound
	}
	return *run, nil
}

func (f *fakeStore) setRunStatus(runID uuid.UUID, status domain.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = status
}

func (f *fakeStore) MarkRunCompleted(ctx context.Context, tenantID, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.TenantID != tenantID {
		return domain.ErrRunNotFound
	}
	now := time.Now()
	run.Status = domain.RunCompleted
	run.CompletedAt = &now
	return nil
}

func (f *fakeStore) MarkRunFailed(ctx context.Context, tenantID, runID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.TenantID != tenantID {
		return domain.ErrRunNotFound
	}
	now := time.Now()
	run.Status = domain.RunFailed
	run.ErrorMessage = reason
	run.CompletedAt = &now
	return nil
}

func (f *fakeStore) ListStepExecutions(ctx context.Context, tenantID, runID uuid.UUID) ([]domain.StepExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StepExecution
	for _, s := range f.steps {
		if s.RunID == runID && s.TenantID == tenantID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetStepExecution(ctx context.Context, tenantID, stepExecutionID uuid.UUID) (domain.StepExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[stepExecutionID]
	if !ok || s.TenantID != tenantID {
		return domain.StepExecution{}, domain.ErrStepNotFound
	}
	return *s, nil
}

func (f *fakeStore) ClaimStep(ctx context.Context, tenantID, runID uuid.UUID, position int, kind domain.StepKind) (domain.StepExecution, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.steps {
		if s.RunID == runID && s.Position == position {
			if s.TenantID != tenantID {
				return domain.StepExecution{}, false, domain.ErrStepNotFound
			}
			if s.Status != domain.StepPending {
				return domain.StepExecution{}, false, nil
			}
			now := time.Now()
			s.Status = domain.StepRunning
			s.StartedAt = &now
			return *s, true, nil
		}
	}

	now := time.Now()
	s := &domain.StepExecution{
		ID:        uuid.New(),
		RunID:     runID,
		TenantID:  tenantID,
		Position:  position,
		Kind:      kind,
		Status:    domain.StepRunning,
		StartedAt: &now,
	}
	f.steps[s.ID] = s
	return *s, true, nil
}

func (f *fakeStore) ReleaseStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[stepExecutionID]
	if !ok || s.TenantID != tenantID {
		return domain.ErrStepNotFound
	}
	if s.Status == domain.StepRunning {
		s.Status = domain.StepPending
		s.StartedAt = nil
	}
	return nil
}

func (f *fakeStore) CompleteStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, output json.RawMessage, nextPosition int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[stepExecutionID]
	if !ok || s.TenantID != tenantID {
		return domain.ErrStepNotFound
	}
	now := time.Now()
	s.Status = domain.StepCompleted
	s.Output = output
	s.NextPosition = nextPosition
	s.CompletedAt = &now
	return nil
}

func (f *fakeStore) SuspendStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, status domain.StepStatus, callID string, resumeAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[stepExecutionID]
	if !ok || s.TenantID != tenantID {
		return domain.ErrStepNotFound
	}
	s.Status = status
	s.CallID = callID
	s.ResumeAt = resumeAt
	return nil
}

func (f *fakeStore) FailStep(ctx context.Context, tenantID, stepExecutionID uuid.UUID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStepErr != nil {
		err := f.failStepErr
		f.failStepErr = nil
		return err
	}
	s, ok := f.steps[stepExecutionID]
	if !ok || s.TenantID != tenantID {
		return domain.ErrStepNotFound
	}
	now := time.Now()
	s.Status = domain.StepFailed
	s.ErrorMessage = errorMessage
	s.CompletedAt = &now
	return nil
}

func (f *fakeStore) FindStepByCallID(ctx context.Context, callID string) (domain.StepExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.steps {
		if s.CallID == callID && callID != "" {
			return *s, nil
		}
	}
	return domain.StepExecution{}, domain.ErrCallNotFound
}

func (f *fakeStore) CreateApproval(ctx context.Context, params domain.CreateApprovalParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createApprovalErr != nil {
		err := f.createApprovalErr
		f.createApprovalErr = nil
		return uuid.Nil, err
	}
	a := &domain.Approval{
		ID:              uuid.New(),
		StepExecutionID: params.StepExecutionID,
		RunID:           params.RunID,
		TenantID:        params.TenantID,
		RequestedFrom:   params.RequestedFrom,
		Message:         params.Message,
		Status:          domain.ApprovalPending,
		CreatedAt:       time.Now(),
	}
	f.approvals[a.ID] = a
	return a.ID, nil
}

func (f *fakeStore) GetApproval(ctx context.Context, tenantID, approvalID uuid.UUID) (domain.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[approvalID]
	if !ok || a.TenantID != tenantID {
		return domain.Approval{}, domain.ErrApprovalNotFound
	}
	return *a, nil
}

func (f *fakeStore) DecideApproval(ctx context.Context, tenantID, approvalID uuid.UUID, status domain.ApprovalStatus, comment string, decidedBy uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[approvalID]
	if !ok || a.TenantID != tenantID {
		return false, domain.ErrApprovalNotFound
	}
	if a.Status != domain.ApprovalPending {
		return false, nil
	}
	now := time.Now()
	a.Status = status
	a.Comment = comment
	a.DecidedBy = &decidedBy
	a.DecidedAt = &now
	return true, nil
}

// pendingApprovalFor returns the single pending approval for a run.
func (f *fakeStore) pendingApprovalFor(runID uuid.UUID) (domain.Approval, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.approvals {
		if a.RunID == runID && a.Status == domain.ApprovalPending {
			return *a, true
		}
	}
	return domain.Approval{}, false
}

func (f *fakeStore) stepAt(runID uuid.UUID, position int) (domain.StepExecution, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.steps {
		if s.RunID == runID && s.Position == position {
			return *s, true
		}
	}
	return domain.StepExecution{}, false
}

func (f *fakeStore) stepCount(runID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.steps {
		if s.RunID == runID {
			n++
		}
	}
	return n
}

var _ Store = (*fakeStore)(nil)
