// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/operato/workflow-engine/internal/domain"
)

// ActionRepository is the database-backed action sink. Each named action
// maps to one write against the tenant's business tables; the returned
// document becomes the step's recorded output.
type ActionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewActionRepository(pool *pgxpool.Pool, logger *slog.Logger) *ActionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ActionRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *ActionRepository) Apply(ctx context.Context, tenantID uuid.UUID, action string, params map[string]any) (json.RawMessage, error) {
	switch action {
	case "create_task":
		return r.createTask(ctx, tenantID, params)
	case "complete_task":
		return r.completeTask(ctx, tenantID, params)
	case "send_notification":
		return r.sendNotification(ctx, tenantID, params)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAction, action)
	}
}

func (r *ActionRepository) createTask(ctx context.Context, tenantID uuid.UUID, params map[string]any) (json.RawMessage, error) {
	title, _ := params["title"].(string)
	if title == "" {
		return nil, fmt.Errorf("create_task: %w: title required", domain.ErrInvalidStepConfig)
	}

	details, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	taskID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (id, tenant_id, title, details)
		VALUES ($1, $2, $3, $4)
	`, taskID, tenantID, title, details); err != nil {
		r.logger.Error("create task failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}

	return json.Marshal(map[string]any{"task_id": taskID})
}

func (r *ActionRepository) completeTask(ctx context.Context, tenantID uuid.UUID, params map[string]any) (json.RawMessage, error) {
	rawID, _ := params["task_id"].(string)
	taskID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("complete_task: %w: valid task_id required", domain.ErrInvalidStepConfig)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET completed_at = NOW()
		WHERE id=$1 AND tenant_id=$2 AND completed_at IS NULL
	`, taskID, tenantID)
	if err != nil {
		r.logger.Error("complete task failed", "task_id", taskID, "error", err)
		return nil, err
	}

	return json.Marshal(map[string]any{"task_id": taskID, "completed": tag.RowsAffected() > 0})
}

func (r *ActionRepository) sendNotification(ctx context.Context, tenantID uuid.UUID, params map[string]any) (json.RawMessage, error) {
	channel, _ := params["channel"].(string)
	if channel == "" {
		channel = "in_app"
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	notificationID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, tenant_id, channel, body)
		VALUES ($1, $2, $3, $4)
	`, notificationID, tenantID, channel, body); err != nil {
		r.logger.Error("send notification failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}

	return json.Marshal(map[string]any{"notification_id": notificationID, "channel": channel})
}
