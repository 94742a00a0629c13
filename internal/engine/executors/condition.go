// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/operato/workflow-engine/internal/condition"
	"github.com/operato/workflow-engine/internal/domain"
)

type conditionConfig struct {
	Expression json.RawMessage `json:"expression,omitempty"`
	IfTrue     int             `json:"if_true"`
	IfFalse    int             `json:"if_false"`
}

type conditionOutput struct {
	Matched bool `json:"matched"`
	Next    int  `json:"next"`
}

// ConditionExecutor evaluates the configured expression against the run
// context and completes with the branch to advance to. The orchestrator
// validates the target position before following it.
type ConditionExecutor struct{}

func (e *ConditionExecutor) Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (Outcome, error) {
	var cfg conditionConfig
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return Failed(fmt.Sprintf("invalid condition config: %v", err)), nil
	}

	expr, err := condition.Parse(cfg.Expression)
	if err != nil {
		return Failed(fmt.Sprintf("invalid condition expression: %v", err)), nil
	}

	matched := condition.Evaluate(expr, sc.Payload())
	next := cfg.IfFalse
	if matched {
		next = cfg.IfTrue
	}

	output, _ := json.Marshal(conditionOutput{Matched: matched, Next: next})
	return CompletedBranch(output, next), nil
}
