// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"encoding/json"
	"time"

	"github.com/operato/workflow-engine/internal/domain"
)

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeSuspended OutcomeStatus = "suspended"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the result of dispatching one step. Exactly one of the three
// statuses applies; the orchestrator persists it and decides whether to
// advance, return control, or fail the run.
type Outcome struct {
	Status OutcomeStatus
	Output json.RawMessage

	// NextPosition overrides position+1 when set (branching steps).
	NextPosition *int

	// Waiting names the suspended state to persist; CallID correlates an
	// integration callback; ResumeAt is the delay deadline.
	Waiting  domain.StepStatus
	CallID   string
	ResumeAt *time.Time

	ErrorMessage string
}

func Completed(output json.RawMessage) Outcome {
	return Outcome{Status: OutcomeCompleted, Output: output}
}

func CompletedBranch(output json.RawMessage, next int) Outcome {
	return Outcome{Status: OutcomeCompleted, Output: output, NextPosition: &next}
}

func Suspended(waiting domain.StepStatus) Outcome {
	return Outcome{Status: OutcomeSuspended, Waiting: waiting}
}

func Failed(message string) Outcome {
	return Outcome{Status: OutcomeFailed, ErrorMessage: message}
}
