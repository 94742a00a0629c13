// SPDX-License-Identifier: Apache-2.0

// Package executors holds one step executor per step kind. Each executor
// receives the step's configuration plus the accumulated run context and
// reports a terminal outcome or a suspension; infrastructure errors are
// returned separately so the caller can retry the whole invocation without
// recording a permanent step failure.
package executors

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
)

// StepContext is the accumulated state an executor may read: the immutable
// trigger payload and the outputs of all prior completed steps, keyed by
// position.
type StepContext struct {
	TenantID        uuid.UUID
	RunID           uuid.UUID
	StepExecutionID uuid.UUID
	TriggeredBy     uuid.UUID
	TriggerData     map[string]any
	PriorOutputs    map[int]json.RawMessage
}

// Payload merges trigger data with prior step outputs under a "steps" key,
// so condition expressions can reference both ("status", "steps.1.task_id").
func (sc StepContext) Payload() map[string]any {
	merged := make(map[string]any, len(sc.TriggerData)+1)
	for k, v := range sc.TriggerData {
		merged[k] = v
	}

	if len(sc.PriorOutputs) > 0 {
		steps := make(map[string]any, len(sc.PriorOutputs))
		for pos, raw := range sc.PriorOutputs {
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				continue
			}
			steps[strconv.Itoa(pos)] = decoded
		}
		merged["steps"] = steps
	}

	return merged
}

type StepExecutor interface {
	Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (Outcome, error)
}

// ActionSink applies a named business side effect for a tenant. Concrete
// adapters (task creation, notifications, CRM writes) live behind it.
type ActionSink interface {
	Apply(ctx context.Context, tenantID uuid.UUID, action string, params map[string]any) (json.RawMessage, error)
}

// ApprovalCreator persists the pending human-decision record for an
// approval step.
type ApprovalCreator interface {
	CreateApproval(ctx context.Context, params domain.CreateApprovalParams) (uuid.UUID, error)
}

// CallRequest is the outbound payload for an asynchronous integration call.
// CallID correlates the later webhook callback with the suspended step.
type CallRequest struct {
	TenantID uuid.UUID
	RunID    uuid.UUID
	CallID   string
	Endpoint string
	Params   map[string]any
}

// CallDispatcher hands a call request to the external collaborator. The
// real outcome arrives later via the integration callback surface.
type CallDispatcher interface {
	Dispatch(ctx context.Context, req CallRequest) error
}
