// SPDX-License-Identifier: Apache-2.0

// Package repository holds the Postgres persistence layer: one repository
// per aggregate, plus Store, the composite the engine runs on.
package repository

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the per-aggregate repositories behind the engine's
// persistence interface.
type Store struct {
	*DefinitionRepository
	*RunRepository
	*StepRepository
	*ApprovalRepository
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		DefinitionRepository: NewDefinitionRepository(pool, logger),
		RunRepository:        NewRunRepository(pool, logger),
		StepRepository:       NewStepRepository(pool, logger),
		ApprovalRepository:   NewApprovalRepository(pool, logger),
	}
}
