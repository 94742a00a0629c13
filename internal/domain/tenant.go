// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultMaxRequestsPerMin = 120

type CreateTenantParams struct {
	Name              string
	MaxRequestsPerMin int
}

// CreatedTenant carries the one-time API token returned on creation; only
// its hash is persisted.
type CreatedTenant struct {
	ID    uuid.UUID
	Token string
}

type TenantRecord struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	MaxRequestsPerMin int       `json:"max_requests_per_min"`
	CreatedAt         time.Time `json:"created_at"`
}
