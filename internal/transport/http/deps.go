// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/auth"
	"github.com/operato/workflow-engine/internal/domain"
)

type EventIngester interface {
	CheckTriggers(ctx context.Context, tenantID, actorID uuid.UUID, eventType string, payload json.RawMessage, eventID string) ([]uuid.UUID, error)
}

type RunReader interface {
	GetRun(ctx context.Context, tenantID, runID uuid.UUID) (domain.WorkflowRun, error)
	ListRuns(ctx context.Context, tenantID, workflowID uuid.UUID, limit int) ([]domain.WorkflowRun, error)
	ListStepExecutions(ctx context.Context, tenantID, runID uuid.UUID) ([]domain.StepExecution, error)
	CancelRun(ctx context.Context, tenantID, runID uuid.UUID) error
}

type ApprovalDecider interface {
	ResolveApproval(ctx context.Context, tenantID, actorID, approvalID uuid.UUID, decision domain.ApprovalStatus, comment string) error
}

type ApprovalInbox interface {
	ListPendingApprovals(ctx context.Context, tenantID, requestedFrom uuid.UUID) ([]domain.Approval, error)
}

type CallbackResolver interface {
	ResolveIntegrationCallback(ctx context.Context, callID string, succeeded bool, output json.RawMessage) error
}

type WorkflowManager interface {
	CreateDefinition(ctx context.Context, params domain.CreateDefinitionParams) (uuid.UUID, error)
	GetDefinition(ctx context.Context, tenantID, workflowID uuid.UUID) (domain.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, tenantID uuid.UUID) ([]domain.WorkflowDefinition, error)
	SetDefinitionActive(ctx context.Context, tenantID, workflowID uuid.UUID, active bool) error
}

type TokenResolver interface {
	ResolveToken(ctx context.Context, bearerToken string) (auth.Tenant, bool, error)
}

type TenantAdmin interface {
	CreateTenant(ctx context.Context, params domain.CreateTenantParams) (domain.CreatedTenant, error)
	ListTenants(ctx context.Context) ([]domain.TenantRecord, error)
	RevokeTenant(ctx context.Context, id uuid.UUID) error
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
