// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type StepKind string

const (
	StepAction          StepKind = "action"
	StepCondition       StepKind = "condition"
	StepApproval        StepKind = "approval"
	StepIntegrationCall StepKind = "integration_call"
	StepDelay           StepKind = "delay"
)

// KnownStepKind reports whether k is one of the closed set of step kinds
// the engine dispatches on.
func KnownStepKind(k StepKind) bool {
	switch k {
	case StepAction, StepCondition, StepApproval, StepIntegrationCall, StepDelay:
		return true
	default:
		return false
	}
}

// StepSpec is one entry in a definition's ordered step list. Position is a
// total order within the definition; branching steps may name a next
// position other than Position+1.
type StepSpec struct {
	Position int             `json:"position"`
	Kind     StepKind        `json:"kind"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// WorkflowDefinition is a tenant-authored automation rule: a trigger event
// type, an optional condition expression over the event payload, and an
// ordered list of steps. Immutable per version and read-only to the engine.
type WorkflowDefinition struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Name        string          `json:"name"`
	TriggerType string          `json:"trigger_type"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Steps       []StepSpec      `json:"steps"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StepAt returns the spec at the given position.
func (d WorkflowDefinition) StepAt(position int) (StepSpec, bool) {
	for _, s := range d.Steps {
		if s.Position == position {
			return s, true
		}
	}
	return StepSpec{}, false
}

// FirstPosition returns the lowest step position, or 0 when the definition
// has no steps.
func (d WorkflowDefinition) FirstPosition() int {
	if len(d.Steps) == 0 {
		return 0
	}
	first := d.Steps[0].Position
	for _, s := range d.Steps[1:] {
		if s.Position < first {
			first = s.Position
		}
	}
	return first
}

// LastPosition returns the highest step position, or 0 when the definition
// has no steps.
func (d WorkflowDefinition) LastPosition() int {
	last := 0
	for _, s := range d.Steps {
		if s.Position > last {
			last = s.Position
		}
	}
	return last
}

// NextAfter returns the lowest defined position greater than the given one,
// or LastPosition()+1 when the given position is the last step (run end).
func (d WorkflowDefinition) NextAfter(position int) int {
	next := d.LastPosition() + 1
	for _, s := range d.Steps {
		if s.Position > position && s.Position < next {
			next = s.Position
		}
	}
	return next
}

// ValidateSteps checks the structural invariants the engine relies on:
// known kinds, strictly increasing positions starting at 1, and condition
// branch targets that resolve to a step or to LastPosition+1 (run end).
func (d WorkflowDefinition) ValidateSteps() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %q: at least one step required", d.Name)
	}

	prev := 0
	for _, s := range d.Steps {
		if !KnownStepKind(s.Kind) {
			return fmt.Errorf("definition %q: unknown step kind %q at position %d", d.Name, s.Kind, s.Position)
		}
		if s.Position <= prev {
			return fmt.Errorf("definition %q: step positions must be strictly increasing, got %d after %d", d.Name, s.Position, prev)
		}
		prev = s.Position
	}

	end := d.LastPosition() + 1
	for _, s := range d.Steps {
		if s.Kind != StepCondition {
			continue
		}
		var cfg struct {
			IfTrue  int `json:"if_true"`
			IfFalse int `json:"if_false"`
		}
		if err := json.Unmarshal(s.Config, &cfg); err != nil {
			return fmt.Errorf("definition %q: condition config at position %d: %w", d.Name, s.Position, err)
		}
		for _, target := range []int{cfg.IfTrue, cfg.IfFalse} {
			if target == end {
				continue
			}
			if _, ok := d.StepAt(target); !ok {
				return fmt.Errorf("definition %q: condition at position %d targets missing position %d", d.Name, s.Position, target)
			}
		}
	}

	return nil
}

type CreateDefinitionParams struct {
	TenantID    uuid.UUID
	Name        string
	TriggerType string
	Condition   json.RawMessage
	Steps       []StepSpec
	Active      bool
}
