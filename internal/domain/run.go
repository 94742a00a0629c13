// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further step may be dispatched for a run
// in this status.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// WorkflowRun is one execution instance of a WorkflowDefinition, created by
// a matched trigger event. TriggerData is an immutable snapshot of the event
// payload; all step context derives from it plus prior step outputs.
type WorkflowRun struct {
	ID             uuid.UUID       `json:"id"`
	WorkflowID     uuid.UUID       `json:"workflow_id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	TriggeredBy    uuid.UUID       `json:"triggered_by"`
	TriggerEventID string          `json:"trigger_event_id,omitempty"`
	TriggerData    json.RawMessage `json:"trigger_data,omitempty"`
	Status         RunStatus       `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

type CreateRunParams struct {
	WorkflowID     uuid.UUID
	TenantID       uuid.UUID
	TriggeredBy    uuid.UUID
	TriggerEventID string
	TriggerData    json.RawMessage
}
