// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepPending         StepStatus = "pending"
	StepRunning         StepStatus = "running"
	StepCompleted       StepStatus = "completed"
	StepFailed          StepStatus = "failed"
	StepWaitingApproval StepStatus = "waiting_approval"
	StepWaitingCallback StepStatus = "waiting_callback"
	StepWaitingDelay    StepStatus = "waiting_delay"
)

// Waiting reports whether the step is suspended on an external event
// (human decision, integration callback, or delay deadline).
func (s StepStatus) Waiting() bool {
	return s == StepWaitingApproval || s == StepWaitingCallback || s == StepWaitingDelay
}

// StepExecution is the persisted record of one step attempt within a run.
// Executions are append-only per run and keyed by position; the orchestrator
// derives "next step to run" from these rows, which is what makes resume
// safe across process restarts.
type StepExecution struct {
	ID           uuid.UUID       `json:"id"`
	RunID        uuid.UUID       `json:"run_id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	Position     int             `json:"position"`
	Kind         StepKind        `json:"kind"`
	Status       StepStatus      `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	NextPosition int             `json:"next_position,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	ResumeAt     *time.Time      `json:"resume_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}
