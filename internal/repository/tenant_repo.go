// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/operato/workflow-engine/internal/auth"
	"github.com/operato/workflow-engine/internal/domain"
)

type TenantRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTenantRepository(pool *pgxpool.Pool, logger *slog.Logger) *TenantRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TenantRepository{
		pool:   pool,
		logger: logger,
	}
}

// ResolveToken maps a bearer token to its tenant. Only the SHA-256 hash is
// ever compared or stored; an unknown or revoked token resolves to
// (zero, false, nil) rather than an error.
func (r *TenantRepository) ResolveToken(ctx context.Context, bearerToken string) (auth.Tenant, bool, error) {
	if bearerToken == "" {
		return auth.Tenant{}, false, nil
	}
	tokenHash := sha256Hex(bearerToken)

	var tenant auth.Tenant
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, max_requests_per_min
		 FROM tenants
		 WHERE token_hash=$1 AND revoked_at IS NULL`,
		tokenHash,
	).Scan(&tenant.ID, &tenant.Name, &tenant.MaxRequestsPerMin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Tenant{}, false, nil
		}
		r.logger.Error("resolve tenant token failed", "error", err)
		return auth.Tenant{}, false, err
	}

	if tenant.MaxRequestsPerMin <= 0 {
		tenant.MaxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	return tenant, true, nil
}

func (r *TenantRepository) CreateTenant(ctx context.Context, params domain.CreateTenantParams) (domain.CreatedTenant, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return domain.CreatedTenant{}, domain.ErrInvalidTenantName
	}

	maxRequestsPerMin := params.MaxRequestsPerMin
	if maxRequestsPerMin <= 0 {
		maxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	token, tokenHash, err := generateTenantToken()
	if err != nil {
		r.logger.Error("generate tenant token failed", "error", err)
		return domain.CreatedTenant{}, err
	}

	tenantID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, token_hash, max_requests_per_min)
		VALUES ($1, $2, $3, $4)
	`,
		tenantID,
		name,
		tokenHash,
		maxRequestsPerMin,
	); err != nil {
		r.logger.Error("create tenant failed", "name", name, "error", err)
		return domain.CreatedTenant{}, err
	}

	return domain.CreatedTenant{
		ID:    tenantID,
		Token: token,
	}, nil
}

func (r *TenantRepository) ListTenants(ctx context.Context) ([]domain.TenantRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, max_requests_per_min, created_at
		FROM tenants
		WHERE revoked_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		r.logger.Error("list tenants query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	tenants := make([]domain.TenantRecord, 0, 32)
	for rows.Next() {
		var record domain.TenantRecord
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.MaxRequestsPerMin,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		tenants = append(tenants, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tenants, nil
}

func (r *TenantRepository) RevokeTenant(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenants
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		r.logger.Error("revoke tenant failed", "tenant_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func generateTenantToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := "wf_live_" + hex.EncodeToString(raw)
	return token, sha256Hex(token), nil
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
