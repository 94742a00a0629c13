// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/auth"
)

const healthzPath = "/healthz"
const metricsPath = "/metrics"
const versionPath = "/version"
const headerActorID = "X-Actor-ID"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

type TokenResolver interface {
	ResolveToken(ctx context.Context, bearerToken string) (auth.Tenant, bool, error)
}

// TenantTokenAuth enforces bearer-token authentication for all routes except
// /healthz, /metrics, and /version; resolves the owning tenant from the
// token and stores it on request context. The optional X-Actor-ID header
// attributes the request to a user within the tenant.
func TenantTokenAuth(resolver TokenResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return tenantTokenAuthWithLimiter(resolver, newInMemoryRateLimiter(), logger)
}

func tenantTokenAuthWithLimiter(
	resolver TokenResolver,
	limiter *inMemoryRateLimiter,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.TenantTokenAuth requires a resolver")
	}
	if limiter == nil {
		panic("middleware.TenantTokenAuth requires a limiter")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath || r.URL.Path == versionPath {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := bearerToken(authHeader)
			if !ok {
				logger.Warn("request blocked by tenant token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid API token", http.StatusUnauthorized)
				return
			}

			tenant, found, err := resolver.ResolveToken(r.Context(), token)
			if err != nil {
				logger.Error("tenant token resolution failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				http.Error(w, "auth lookup failed", http.StatusInternalServerError)
				return
			}

			if !found {
				logger.Warn("request blocked by tenant token lookup",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid API token", http.StatusUnauthorized)
				return
			}

			decision := limiter.Allow(tenant.ID, tenant.MaxRequestsPerMin, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			ctx := auth.WithTenant(r.Context(), tenant)
			if raw := strings.TrimSpace(r.Header.Get(headerActorID)); raw != "" {
				actorID, err := uuid.Parse(raw)
				if err != nil {
					http.Error(w, "invalid X-Actor-ID header", http.StatusBadRequest)
					return
				}
				ctx = auth.WithActorID(ctx, actorID)
			}

			// Preserve authenticated context on the current request pointer so
			// outer middleware (request logging) can read tenant_id after next returns.
			*r = *r.WithContext(ctx)
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
