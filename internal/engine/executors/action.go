// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/operato/workflow-engine/internal/domain"
)

type actionConfig struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// ActionExecutor performs a direct side effect through the configured sink.
// It is always terminal: completed or failed, never suspended.
type ActionExecutor struct {
	Sink ActionSink
}

func (e *ActionExecutor) Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (Outcome, error) {
	var cfg actionConfig
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return Failed(fmt.Sprintf("invalid action config: %v", err)), nil
	}
	if cfg.Action == "" {
		return Failed("action config missing action name"), nil
	}

	output, err := e.Sink.Apply(ctx, sc.TenantID, cfg.Action, cfg.Params)
	if err != nil {
		return Failed(fmt.Sprintf("action %s failed: %v", cfg.Action, err)), nil
	}

	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	return Completed(output), nil
}
