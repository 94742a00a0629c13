// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/operato/workflow-engine/internal/domain"
)

type DefinitionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDefinitionRepository(pool *pgxpool.Pool, logger *slog.Logger) *DefinitionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefinitionRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *DefinitionRepository) CreateDefinition(ctx context.Context, params domain.CreateDefinitionParams) (uuid.UUID, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return uuid.Nil, domain.ErrInvalidDefinition
	}

	def := domain.WorkflowDefinition{
		Name:        name,
		TriggerType: params.TriggerType,
		Steps:       params.Steps,
	}
	if err := def.ValidateSteps(); err != nil {
		// Tag with the sentinel so transports can tell a bad definition
		// from an infrastructure failure.
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrInvalidDefinition, err)
	}

	steps, err := json.Marshal(params.Steps)
	if err != nil {
		return uuid.Nil, err
	}

	condition := params.Condition
	if len(condition) == 0 {
		condition = json.RawMessage(`null`)
	}

	definitionID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_definitions (id, tenant_id, name, trigger_type, condition, steps, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		definitionID,
		params.TenantID,
		name,
		params.TriggerType,
		condition,
		steps,
		params.Active,
	); err != nil {
		r.logger.Error("create definition failed", "tenant_id", params.TenantID, "name", name, "error", err)
		return uuid.Nil, err
	}

	return definitionID, nil
}

func (r *DefinitionRepository) GetDefinition(ctx context.Context, tenantID, workflowID uuid.UUID) (domain.WorkflowDefinition, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, trigger_type, condition, steps, active, created_at
		FROM workflow_definitions
		WHERE id=$1 AND tenant_id=$2
	`, workflowID, tenantID)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowDefinition{}, domain.ErrWorkflowNotFound
		}
		r.logger.Error("get definition failed", "workflow_id", workflowID, "error", err)
		return domain.WorkflowDefinition{}, err
	}

	return def, nil
}

func (r *DefinitionRepository) ListDefinitions(ctx context.Context, tenantID uuid.UUID) ([]domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, trigger_type, condition, steps, active, created_at
		FROM workflow_definitions
		WHERE tenant_id=$1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		r.logger.Error("list definitions query failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	defer rows.Close()

	return collectDefinitions(rows)
}

func (r *DefinitionRepository) ListActiveDefinitions(ctx context.Context, tenantID uuid.UUID, triggerType string) ([]domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, trigger_type, condition, steps, active, created_at
		FROM workflow_definitions
		WHERE tenant_id=$1 AND trigger_type=$2 AND active
		ORDER BY created_at ASC
	`, tenantID, triggerType)
	if err != nil {
		r.logger.Error("list active definitions query failed",
			"tenant_id", tenantID,
			"trigger_type", triggerType,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	return collectDefinitions(rows)
}

func (r *DefinitionRepository) SetDefinitionActive(ctx context.Context, tenantID, workflowID uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_definitions
		SET active=$3
		WHERE id=$1 AND tenant_id=$2
	`, workflowID, tenantID, active)
	if err != nil {
		r.logger.Error("set definition active failed", "workflow_id", workflowID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

func scanDefinition(row pgx.Row) (domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	var condition []byte
	var steps []byte

	if err := row.Scan(
		&def.ID,
		&def.TenantID,
		&def.Name,
		&def.TriggerType,
		&condition,
		&steps,
		&def.Active,
		&def.CreatedAt,
	); err != nil {
		return domain.WorkflowDefinition{}, err
	}

	def.Condition = json.RawMessage(condition)
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return domain.WorkflowDefinition{}, err
	}

	return def, nil
}

func collectDefinitions(rows pgx.Rows) ([]domain.WorkflowDefinition, error) {
	out := make([]domain.WorkflowDefinition, 0, 16)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
