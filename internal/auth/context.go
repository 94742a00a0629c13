// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/google/uuid"
)

type tenantContextKey struct{}
type actorIDContextKey struct{}

var ctxTenantKey tenantContextKey
var ctxActorIDKey actorIDContextKey

// Tenant is the authenticated workspace resolved from a bearer token,
// including its rate limit.
type Tenant struct {
	ID                uuid.UUID
	Name              string
	MaxRequestsPerMin int
}

// WithTenant stores the resolved tenant on the request context.
func WithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, ctxTenantKey, tenant)
}

// TenantFromContext reads the resolved tenant from context.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	v := ctx.Value(ctxTenantKey)
	tenant, ok := v.(Tenant)
	if !ok || tenant.ID == uuid.Nil {
		return Tenant{}, false
	}
	return tenant, true
}

// TenantIDFromContext reads the authenticated tenant id from context.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return tenant.ID, true
}

// WithActorID stores the acting user id (the X-Actor-ID header) on the
// request context. Approval decisions are attributed to this id.
func WithActorID(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxActorIDKey, actorID)
}

// ActorIDFromContext reads the acting user id from context.
func ActorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(ctxActorIDKey)
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
