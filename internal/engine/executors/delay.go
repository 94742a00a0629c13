// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/operato/workflow-engine/internal/domain"
)

type delayConfig struct {
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Until           string `json:"until,omitempty"`
}

// DelayExecutor suspends the run until a wall-clock deadline. The scheduler
// process resumes the run once the deadline passes.
type DelayExecutor struct{}

func (e *DelayExecutor) Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (Outcome, error) {
	var cfg delayConfig
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return Failed(fmt.Sprintf("invalid delay config: %v", err)), nil
	}

	var resumeAt time.Time
	switch {
	case cfg.Until != "":
		parsed, err := time.Parse(time.RFC3339, cfg.Until)
		if err != nil {
			return Failed(fmt.Sprintf("invalid delay deadline: %v", err)), nil
		}
		resumeAt = parsed
	case cfg.DurationSeconds > 0:
		resumeAt = time.Now().Add(time.Duration(cfg.DurationSeconds) * time.Second)
	default:
		return Failed("delay config requires duration_seconds or until"), nil
	}

	out := Suspended(domain.StepWaitingDelay)
	out.ResumeAt = &resumeAt
	return out, nil
}
