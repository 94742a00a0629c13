// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
	execs "github.com/operato/workflow-engine/internal/engine/executors"
)

// countingSink records every applied action so tests can assert a side
// effect ran exactly once.
type countingSink struct {
	mu      sync.Mutex
	applied []string
	err     error
}

func (s *countingSink) Apply(ctx context.Context, tenantID uuid.UUID, action string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.applied = append(s.applied, action)
	return json.RawMessage(fmt.Sprintf(`{"action":%q,"seq":%d}`, action, len(s.applied))), nil
}

func (s *countingSink) count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.applied {
		if a == action {
			n++
		}
	}
	return n
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []execs.CallRequest
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req execs.CallRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, req)
	return nil
}

type engineFixture struct {
	store      *fakeStore
	sink       *countingSink
	dispatcher *recordingDispatcher
	engine     *Engine
	tenantID   uuid.UUID
	actorID    uuid.UUID
	approverID uuid.UUID
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := newFakeStore()
	sink := &countingSink{}
	dispatcher := &recordingDispatcher{}

	return &engineFixture{
		store:      store,
		sink:       sink,
		dispatcher: dispatcher,
		engine: New(Deps{
			Store:      store,
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
			Actions:    sink,
			Dispatcher: dispatcher,
		}),
		tenantID:   uuid.New(),
		actorID:    uuid.New(),
		approverID: uuid.New(),
	}
}

// signoffDefinition is the canonical three-step fixture: create a task,
// wait for a manager to sign off, then send a notification.
func (fx *engineFixture) signoffDefinition() domain.WorkflowDefinition {
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "project kickoff signoff",
		TriggerType: domain.EventProjectCreated,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"create_task","params":{"title":"kickoff"}}`)},
			{Position: 2, Kind: domain.StepApproval, Config: json.RawMessage(fmt.Sprintf(`{"approver_id":%q,"message":"manager signoff"}`, fx.approverID))},
			{Position: 3, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"send_notification","params":{"channel":"email"}}`)},
		},
	}
	fx.store.addDefinition(def)
	return def
}

func (fx *engineFixture) startRun(t *testing.T, def domain.WorkflowDefinition, triggerData string) uuid.UUID {
	t.Helper()
	runID, err := fx.store.CreateRun(context.Background(), domain.CreateRunParams{
		WorkflowID:  def.ID,
		TenantID:    fx.tenantID,
		TriggeredBy: fx.actorID,
		TriggerData: json.RawMessage(triggerData),
	})
	if err != nil {
		t.Fatalf("create run failed: %v", err)
	}
	return runID
}

func TestRunSuspendsAtApproval(t *testing.T) {
	fx := newFixture(t)
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{"project":"atlas"}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunRunning {
		t.Fatalf("expected run running, got %s", run.Status)
	}

	step1, ok := fx.store.stepAt(runID, 1)
	if !ok || step1.Status != domain.StepCompleted {
		t.Fatalf("expected step 1 completed, got %+v", step1)
	}
	step2, ok := fx.store.stepAt(runID, 2)
	if !ok || step2.Status != domain.StepWaitingApproval {
		t.Fatalf("expected step 2 waiting_approval, got %+v", step2)
	}
	if _, ok := fx.store.stepAt(runID, 3); ok {
		t.Fatal("step 3 must not exist while step 2 waits")
	}

	if fx.sink.count("create_task") != 1 {
		t.Fatalf("expected create_task applied once, got %d", fx.sink.count("create_task"))
	}
	if fx.sink.count("send_notification") != 0 {
		t.Fatal("send_notification must not run before approval")
	}

	if _, ok := fx.store.pendingApprovalFor(runID); !ok {
		t.Fatal("expected a pending approval for the run")
	}
}

func TestResumeIdempotence(t *testing.T) {
	fx := newFixture(t)
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step1Before, _ := fx.store.stepAt(runID, 1)

	// Re-invoking while suspended must not re-dispatch anything.
	for i := 0; i < 3; i++ {
		if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
			t.Fatalf("re-invocation %d failed: %v", i, err)
		}
	}

	if fx.sink.count("create_task") != 1 {
		t.Fatalf("expected create_task exactly once, got %d", fx.sink.count("create_task"))
	}
	step1After, _ := fx.store.stepAt(runID, 1)
	if string(step1After.Output) != string(step1Before.Output) {
		t.Fatal("completed step output changed on re-invocation")
	}
	if fx.store.stepCount(runID) != 2 {
		t.Fatalf("expected 2 step executions, got %d", fx.store.stepCount(runID))
	}
}

func TestApproveResumesAndCompletes(t *testing.T) {
	fx := newFixture(t)
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approval, ok := fx.store.pendingApprovalFor(runID)
	if !ok {
		t.Fatal("expected pending approval")
	}

	if err := fx.engine.ResolveApproval(context.Background(), fx.tenantID, fx.approverID, approval.ID, domain.ApprovalApproved, "ship it"); err != nil {
		t.Fatalf("resolve approval failed: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected run completed, got %s", run.Status)
	}
	step2, _ := fx.store.stepAt(runID, 2)
	if step2.Status != domain.StepCompleted {
		t.Fatalf("expected step 2 completed, got %s", step2.Status)
	}
	var out approvalOutput
	if err := json.Unmarshal(step2.Output, &out); err != nil {
		t.Fatalf("step 2 output is not valid json: %v", err)
	}
	if out.Decision != domain.ApprovalApproved || out.Comment != "ship it" {
		t.Fatalf("unexpected approval output: %+v", out)
	}
	step3, ok := fx.store.stepAt(runID, 3)
	if !ok || step3.Status != domain.StepCompleted {
		t.Fatalf("expected step 3 completed, got %+v", step3)
	}
	if fx.sink.count("send_notification") != 1 {
		t.Fatalf("expected send_notification once, got %d", fx.sink.count("send_notification"))
	}
}

func TestRejectionIsTerminal(t *testing.T) {
	fx := newFixture(t)
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approval, _ := fx.store.pendingApprovalFor(runID)

	if err := fx.engine.ResolveApproval(context.Background(), fx.tenantID, fx.approverID, approval.ID, domain.ApprovalRejected, "budget frozen"); err != nil {
		t.Fatalf("resolve approval failed: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunFailed {
		t.Fatalf("expected run failed, got %s", run.Status)
	}
	step2, _ := fx.store.stepAt(runID, 2)
	if step2.Status != domain.StepFailed {
		t.Fatalf("expected step 2 failed, got %s", step2.Status)
	}
	if _, ok := fx.store.stepAt(runID, 3); ok {
		t.Fatal("step 3 must never be created after rejection")
	}

	// Even an explicit re-invocation refuses to continue.
	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); !errors.Is(err, domain.ErrRunNotRunning) {
		t.Fatalf("expected ErrRunNotRunning, got %v", err)
	}
	if fx.sink.count("send_notification") != 0 {
		t.Fatal("no step after a rejected approval may run")
	}
}

func TestBranchCorrectness(t *testing.T) {
	fx := newFixture(t)
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "lead routing",
		TriggerType: domain.EventLeadCreated,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: domain.StepCondition, Config: json.RawMessage(
				`{"expression":{"field":"value","op":"gte","value":1000},"if_true":2,"if_false":3}`,
			)},
			{Position: 2, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"assign_senior"}`)},
			{Position: 3, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"assign_pool"}`)},
		},
	}
	fx.store.addDefinition(def)

	// True branch goes to position 2 and then falls through to 3.
	highRun := fx.startRun(t, def, `{"value":5000}`)
	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, highRun); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.sink.count("assign_senior") != 1 {
		t.Fatalf("expected assign_senior once, got %d", fx.sink.count("assign_senior"))
	}

	// False branch skips position 2 entirely.
	lowRun := fx.startRun(t, def, `{"value":50}`)
	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, lowRun); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := fx.store.stepAt(lowRun, 2); ok {
		t.Fatal("false branch must not execute position 2")
	}
	low2, ok := fx.store.stepAt(lowRun, 3)
	if !ok || low2.Status != domain.StepCompleted {
		t.Fatalf("expected position 3 completed on false branch, got %+v", low2)
	}

	for _, runID := range []uuid.UUID{highRun, lowRun} {
		run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
		if run.Status != domain.RunCompleted {
			t.Fatalf("expected run completed, got %s", run.Status)
		}
	}
}

func TestInvalidBranchTargetFailsRun(t *testing.T) {
	fx := newFixture(t)
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "broken branch",
		TriggerType: domain.EventLeadCreated,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: domain.StepCondition, Config: json.RawMessage(
				`{"expression":{"field":"value","op":"gt","value":0},"if_true":99,"if_false":2}`,
			)},
			{Position: 2, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"noop"}`)},
		},
	}
	fx.store.addDefinition(def)
	runID := fx.startRun(t, def, `{"value":1}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("configuration errors must not surface as transient: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunFailed {
		t.Fatalf("expected run failed, got %s", run.Status)
	}
	step1, _ := fx.store.stepAt(runID, 1)
	if step1.Status != domain.StepFailed {
		t.Fatalf("expected step 1 failed, got %s", step1.Status)
	}
}

func TestUnknownStepKindFailsRun(t *testing.T) {
	fx := newFixture(t)
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "unknown kind",
		TriggerType: domain.EventTaskCreated,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: "llm", Config: json.RawMessage(`{}`)},
		},
	}
	fx.store.addDefinition(def)
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunFailed {
		t.Fatalf("expected run failed, got %s", run.Status)
	}
}

func TestActionFailureFailsRun(t *testing.T) {
	fx := newFixture(t)
	fx.sink.err = errors.New("constraint violation")
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("executor failures must be recorded, not returned: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunFailed {
		t.Fatalf("expected run failed, got %s", run.Status)
	}
	step1, _ := fx.store.stepAt(runID, 1)
	if step1.Status != domain.StepFailed || step1.ErrorMessage == "" {
		t.Fatalf("expected failed step with error message, got %+v", step1)
	}
}

func TestCancelledRunRefusesDispatch(t *testing.T) {
	fx := newFixture(t)
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{}`)
	fx.store.setRunStatus(runID, domain.RunCancelled)

	err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID)
	if !errors.Is(err, domain.ErrRunNotRunning) {
		t.Fatalf("expected ErrRunNotRunning, got %v", err)
	}
	if fx.store.stepCount(runID) != 0 {
		t.Fatal("no step may be dispatched for a cancelled run")
	}
}

func TestIntegrationCallSuspendsAndResumes(t *testing.T) {
	fx := newFixture(t)
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "booking confirmation call",
		TriggerType: domain.EventBookingCreated,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: domain.StepIntegrationCall, Config: json.RawMessage(`{"endpoint":"voice.outbound_call","params":{"to":"+15550100"}}`)},
			{Position: 2, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"record_outcome"}`)},
		},
	}
	fx.store.addDefinition(def)
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step1, _ := fx.store.stepAt(runID, 1)
	if step1.Status != domain.StepWaitingCallback {
		t.Fatalf("expected waiting_callback, got %s", step1.Status)
	}
	if step1.CallID == "" {
		t.Fatal("expected a call id on the suspended step")
	}
	if len(fx.dispatcher.calls) != 1 || fx.dispatcher.calls[0].CallID != step1.CallID {
		t.Fatalf("expected one dispatched call matching the step, got %+v", fx.dispatcher.calls)
	}

	if err := fx.engine.ResolveIntegrationCallback(context.Background(), step1.CallID, true, json.RawMessage(`{"duration":42}`)); err != nil {
		t.Fatalf("callback resolution failed: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected run completed, got %s", run.Status)
	}
	if fx.sink.count("record_outcome") != 1 {
		t.Fatalf("expected record_outcome once, got %d", fx.sink.count("record_outcome"))
	}

	// A redelivery of the same outcome is absorbed without re-running
	// anything; a conflicting outcome reads as a replay.
	if err := fx.engine.ResolveIntegrationCallback(context.Background(), step1.CallID, true, nil); err != nil {
		t.Fatalf("matching redelivery must be a no-op, got %v", err)
	}
	if fx.sink.count("record_outcome") != 1 {
		t.Fatal("redelivery must not re-run the follow-up action")
	}
	err := fx.engine.ResolveIntegrationCallback(context.Background(), step1.CallID, false, nil)
	if !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestIntegrationCallbackFailureFailsRun(t *testing.T) {
	fx := newFixture(t)
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "call then notify",
		TriggerType: domain.EventBookingCreated,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: domain.StepIntegrationCall, Config: json.RawMessage(`{"endpoint":"voice.outbound_call"}`)},
			{Position: 2, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"notify"}`)},
		},
	}
	fx.store.addDefinition(def)
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step1, _ := fx.store.stepAt(runID, 1)

	if err := fx.engine.ResolveIntegrationCallback(context.Background(), step1.CallID, false, json.RawMessage(`{"reason":"no answer"}`)); err != nil {
		t.Fatalf("callback resolution failed: %v", err)
	}

	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunFailed {
		t.Fatalf("expected run failed, got %s", run.Status)
	}
	if _, ok := fx.store.stepAt(runID, 2); ok {
		t.Fatal("no step may run after a failed integration call")
	}
}

func TestDelayStepSuspendsWithDeadline(t *testing.T) {
	fx := newFixture(t)
	def := domain.WorkflowDefinition{
		ID:          uuid.New(),
		TenantID:    fx.tenantID,
		Name:        "follow up later",
		TriggerType: domain.EventFormSubmitted,
		Active:      true,
		Steps: []domain.StepSpec{
			{Position: 1, Kind: domain.StepDelay, Config: json.RawMessage(`{"duration_seconds":3600}`)},
			{Position: 2, Kind: domain.StepAction, Config: json.RawMessage(`{"action":"follow_up"}`)},
		},
	}
	fx.store.addDefinition(def)
	runID := fx.startRun(t, def, `{}`)

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step1, _ := fx.store.stepAt(runID, 1)
	if step1.Status != domain.StepWaitingDelay {
		t.Fatalf("expected waiting_delay, got %s", step1.Status)
	}
	if step1.ResumeAt == nil {
		t.Fatal("expected a resume deadline on the suspended step")
	}
	if fx.sink.count("follow_up") != 0 {
		t.Fatal("follow_up must not run before the deadline")
	}
}

func TestTransientExecutorErrorReleasesClaim(t *testing.T) {
	fx := newFixture(t)
	def := fx.signoffDefinition()
	runID := fx.startRun(t, def, `{}`)

	fx.store.createApprovalErr = errors.New("connection reset by peer")
	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err == nil {
		t.Fatal("expected the transient store failure to surface")
	}

	// The interrupted claim went back to pending, so a retry can take it.
	step2, ok := fx.store.stepAt(runID, 2)
	if !ok {
		t.Fatal("expected an execution row at position 2")
	}
	if step2.Status != domain.StepPending {
		t.Fatalf("expected pending after the release, got %s", step2.Status)
	}
	run, _ := fx.store.GetRun(context.Background(), fx.tenantID, runID)
	if run.Status != domain.RunRunning {
		t.Fatalf("run must stay retryable, got %s", run.Status)
	}

	if err := fx.engine.ExecuteWorkflow(context.Background(), fx.tenantID, runID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	step2, _ = fx.store.stepAt(runID, 2)
	if step2.Status != domain.StepWaitingApproval {
		t.Fatalf("expected waiting_approval after retry, got %s", step2.Status)
	}
	if _, ok := fx.store.pendingApprovalFor(runID); !ok {
		t.Fatal("expected a pending approval after retry")
	}
	if fx.sink.count("create_task") != 1 {
		t.Fatalf("completed step must not re-run on retry, got %d", fx.sink.count("create_task"))
	}
}
