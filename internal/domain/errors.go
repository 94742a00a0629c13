// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var (
	ErrWorkflowNotFound    = errors.New("workflow definition not found")
	ErrRunNotFound         = errors.New("workflow run not found")
	ErrStepNotFound        = errors.New("step execution not found")
	ErrApprovalNotFound    = errors.New("approval not found")
	ErrCallNotFound        = errors.New("integration call not found")
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrRunNotRunning       = errors.New("run is not running")
	ErrAlreadyDecided      = errors.New("approval already decided")
	ErrDuplicateTrigger    = errors.New("duplicate trigger event")
	ErrInvalidBranchTarget = errors.New("branch target is not a valid step position")
	ErrUnknownStepKind     = errors.New("no executor registered for step kind")
	ErrInvalidTenantName   = errors.New("invalid tenant name")
	ErrInvalidDefinition   = errors.New("invalid workflow definition")
	ErrInvalidDecision     = errors.New("decision must be approved or rejected")
	ErrInvalidStepConfig   = errors.New("invalid step configuration")
	ErrUnknownAction       = errors.New("unknown action")
)
