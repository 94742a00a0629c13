// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is the human-decision record behind an approval step. Created
// pending when the step is dispatched; mutated exactly once when the named
// approver responds.
type Approval struct {
	ID              uuid.UUID      `json:"id"`
	StepExecutionID uuid.UUID      `json:"step_execution_id"`
	RunID           uuid.UUID      `json:"run_id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	RequestedFrom   uuid.UUID      `json:"requested_from"`
	Message         string         `json:"message,omitempty"`
	Status          ApprovalStatus `json:"status"`
	Comment         string         `json:"comment,omitempty"`
	DecidedBy       *uuid.UUID     `json:"decided_by,omitempty"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type CreateApprovalParams struct {
	TenantID        uuid.UUID
	RunID           uuid.UUID
	StepExecutionID uuid.UUID
	RequestedFrom   uuid.UUID
	Message         string
}
