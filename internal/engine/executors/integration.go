// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/domain"
)

type integrationConfig struct {
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params,omitempty"`
}

// IntegrationExecutor starts an asynchronous external call (outbound voice,
// enrichment, etc.) and suspends. The collaborator's webhook callback,
// correlated by call id, supplies the real outcome and drives resumption.
type IntegrationExecutor struct {
	Dispatcher CallDispatcher
}

func (e *IntegrationExecutor) Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (Outcome, error) {
	var cfg integrationConfig
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return Failed(fmt.Sprintf("invalid integration config: %v", err)), nil
	}
	if cfg.Endpoint == "" {
		return Failed("integration config missing endpoint"), nil
	}

	callID := uuid.NewString()
	if err := e.Dispatcher.Dispatch(ctx, CallRequest{
		TenantID: sc.TenantID,
		RunID:    sc.RunID,
		CallID:   callID,
		Endpoint: cfg.Endpoint,
		Params:   cfg.Params,
	}); err != nil {
		return Failed(fmt.Sprintf("integration dispatch to %s failed: %v", cfg.Endpoint, err)), nil
	}

	out := Suspended(domain.StepWaitingCallback)
	out.CallID = callID
	return out, nil
}
