// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/condition"
	"github.com/operato/workflow-engine/internal/domain"
	"github.com/operato/workflow-engine/internal/metrics"
)

// CheckTriggers evaluates a fired business event against the tenant's
// active workflow definitions and starts one run per match, executing each
// to its first suspension point before returning the created run ids.
//
// Failures are isolated per definition: a broken condition expression, a
// store error on one run, or an execution failure never prevents the
// remaining definitions from being evaluated. When eventID is non-empty it
// deduplicates retried events per (tenant, workflow, event).
func (e *Engine) CheckTriggers(
	ctx context.Context,
	tenantID uuid.UUID,
	actorID uuid.UUID,
	eventType string,
	payload json.RawMessage,
	eventID string,
) ([]uuid.UUID, error) {
	defs, err := e.store.ListActiveDefinitions(ctx, tenantID, eventType)
	if err != nil {
		return nil, err
	}

	var payloadMap map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &payloadMap); err != nil {
			e.logger.Warn("event payload is not a json object",
				"event_type", eventType,
				"error", err,
			)
		}
	}

	runIDs := make([]uuid.UUID, 0, len(defs))

	for _, def := range defs {
		metrics.IncTriggerEvaluation(eventType)

		expr, err := condition.Parse(def.Condition)
		if err != nil {
			e.logger.Error("definition condition does not parse",
				"workflow_id", def.ID,
				"event_type", eventType,
				"error", err,
			)
			continue
		}
		if !condition.Evaluate(expr, payloadMap) {
			continue
		}

		metrics.IncTriggerMatch(eventType)

		runID, err := e.store.CreateRun(ctx, domain.CreateRunParams{
			WorkflowID:     def.ID,
			TenantID:       tenantID,
			TriggeredBy:    actorID,
			TriggerEventID: eventID,
			TriggerData:    payload,
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateTrigger) {
				e.logger.Info("duplicate trigger suppressed",
					"workflow_id", def.ID,
					"event_type", eventType,
					"event_id", eventID,
				)
				continue
			}
			e.logger.Error("create run failed",
				"workflow_id", def.ID,
				"event_type", eventType,
				"error", err,
			)
			continue
		}

		metrics.IncRunStatus(string(domain.RunRunning))
		e.logger.Info("run started",
			"run_id", runID,
			"workflow_id", def.ID,
			"event_type", eventType,
		)
		runIDs = append(runIDs, runID)

		if err := e.ExecuteWorkflow(ctx, tenantID, runID); err != nil {
			// The run is persisted; a retry of ExecuteWorkflow resumes it.
			e.logger.Error("run execution interrupted",
				"run_id", runID,
				"workflow_id", def.ID,
				"error", err,
			)
		}
	}

	return runIDs, nil
}
