// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/operato/workflow-engine/internal/auth"
	"github.com/operato/workflow-engine/internal/domain"
	"github.com/operato/workflow-engine/internal/integrations"
	"github.com/operato/workflow-engine/internal/metrics"
	"github.com/operato/workflow-engine/internal/transport/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ingestEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	EventID   string          `json:"event_id"`
}

type approvalDecisionRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

type integrationCallbackRequest struct {
	CallID string          `json:"call_id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
}

type createWorkflowRequest struct {
	Name        string            `json:"name"`
	TriggerType string            `json:"trigger_type"`
	Condition   json.RawMessage   `json:"condition"`
	Steps       []domain.StepSpec `json:"steps"`
	Active      *bool             `json:"active"`
}

type setWorkflowActiveRequest struct {
	Active *bool `json:"active"`
}

type createTenantRequest struct {
	Name              string `json:"name"`
	MaxRequestsPerMin int    `json:"max_requests_per_min"`
}

type Deps struct {
	Triggers       EventIngester
	Runs           RunReader
	Approvals      ApprovalDecider
	ApprovalInbox  ApprovalInbox
	Callbacks      CallbackResolver
	Workflows      WorkflowManager
	TenantAdmin    TenantAdmin
	TokenResolver  TokenResolver
	Health         HealthChecker
	Logger         *slog.Logger
	AdminToken     string
	CallbackSecret string
	Version        string
	Commit         string
	BuildDate      string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- INTEGRATION CALLBACK (SIGNATURE AUTH) ----------------

	if deps.Callbacks != nil {
		r.Post("/callbacks/integration", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}

			signature := r.Header.Get(integrations.HeaderSignature)
			if !integrations.VerifySignature(deps.CallbackSecret, body, signature) {
				logger.Warn("callback rejected: bad signature", "remote_addr", r.RemoteAddr)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			var reqBody integrationCallbackRequest
			if err := json.Unmarshal(body, &reqBody); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if strings.TrimSpace(reqBody.CallID) == "" {
				http.Error(w, "call_id is required", http.StatusBadRequest)
				return
			}
			if reqBody.Status != "completed" && reqBody.Status != "failed" {
				http.Error(w, "status must be completed or failed", http.StatusBadRequest)
				return
			}

			err = deps.Callbacks.ResolveIntegrationCallback(r.Context(), reqBody.CallID, reqBody.Status == "completed", reqBody.Output)
			if err != nil {
				if errors.Is(err, domain.ErrCallNotFound) {
					http.Error(w, "integration call not found", http.StatusNotFound)
					return
				}
				if errors.Is(err, domain.ErrAlreadyDecided) {
					http.Error(w, "callback already applied", http.StatusConflict)
					return
				}
				logger.Error("resolve integration callback failed", "call_id", reqBody.CallID, "error", err)
				http.Error(w, "failed to apply callback", http.StatusInternalServerError)
				return
			}

			logger.Info("integration callback applied", "call_id", reqBody.CallID, "status", reqBody.Status)

			writeJSON(w, http.StatusOK, map[string]string{
				"call_id": reqBody.CallID,
				"status":  "accepted",
			})
		})
	}

	// ---------------- TENANT LIFECYCLE (ADMIN) ----------------

	if deps.TenantAdmin != nil {
		r.Route("/tenants", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				reqBody, err := decodeCreateTenantRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				created, err := deps.TenantAdmin.CreateTenant(r.Context(), domain.CreateTenantParams{
					Name:              reqBody.Name,
					MaxRequestsPerMin: reqBody.MaxRequestsPerMin,
				})
				if err != nil {
					if errors.Is(err, domain.ErrInvalidTenantName) {
						http.Error(w, "invalid tenant name", http.StatusBadRequest)
						return
					}
					logger.Error("create tenant failed", "error", err)
					http.Error(w, "failed to create tenant", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]string{
					"tenant_id": created.ID.String(),
					"token":     created.Token,
				})
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				tenants, err := deps.TenantAdmin.ListTenants(r.Context())
				if err != nil {
					logger.Error("list tenants failed", "error", err)
					http.Error(w, "failed to list tenants", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"tenants": tenants,
				})
			})

			admin.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid tenant ID", http.StatusBadRequest)
					return
				}

				if err := deps.TenantAdmin.RevokeTenant(r.Context(), id); err != nil {
					if errors.Is(err, domain.ErrTenantNotFound) {
						http.Error(w, "tenant not found", http.StatusNotFound)
						return
					}
					logger.Error("revoke tenant failed", "tenant_id", id, "error", err)
					http.Error(w, "failed to revoke tenant", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})
		})
	}

	// ---------------- TENANT API (BEARER TOKEN AUTH) ----------------

	r.Group(func(r chi.Router) {
		if deps.TokenResolver != nil {
			r.Use(middleware.TenantTokenAuth(deps.TokenResolver, logger))
		}

		// ---------------- INGEST EVENT ----------------

		r.Post("/events", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}
			actorID, _ := auth.ActorIDFromContext(r.Context())

			reqBody, err := decodeIngestEventRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			runIDs, err := deps.Triggers.CheckTriggers(r.Context(), tenantID, actorID, reqBody.EventType, reqBody.Payload, reqBody.EventID)
			if err != nil {
				logger.Error("trigger check failed", "event_type", reqBody.EventType, "error", err)
				http.Error(w, "failed to process event", http.StatusInternalServerError)
				return
			}

			ids := make([]string, 0, len(runIDs))
			for _, id := range runIDs {
				ids = append(ids, id.String())
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"event_type": reqBody.EventType,
				"run_ids":    ids,
			})
		})

		// ---------------- WORKFLOW DEFINITIONS ----------------

		r.Post("/workflows", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			reqBody, err := decodeCreateWorkflowRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			active := true
			if reqBody.Active != nil {
				active = *reqBody.Active
			}

			workflowID, err := deps.Workflows.CreateDefinition(r.Context(), domain.CreateDefinitionParams{
				TenantID:    tenantID,
				Name:        reqBody.Name,
				TriggerType: reqBody.TriggerType,
				Condition:   reqBody.Condition,
				Steps:       reqBody.Steps,
				Active:      active,
			})
			if err != nil {
				if errors.Is(err, domain.ErrInvalidDefinition) {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				logger.Error("create workflow failed", "error", err)
				http.Error(w, "failed to create workflow", http.StatusInternalServerError)
				return
			}

			logger.Info("workflow created via API", "workflow_id", workflowID)

			writeJSON(w, http.StatusOK, map[string]string{
				"workflow_id": workflowID.String(),
			})
		})

		r.Get("/workflows", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			defs, err := deps.Workflows.ListDefinitions(r.Context(), tenantID)
			if err != nil {
				logger.Error("list workflows failed", "error", err)
				http.Error(w, "failed to list workflows", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"workflows": defs,
			})
		})

		r.Get("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid workflow ID", http.StatusBadRequest)
				return
			}

			def, err := deps.Workflows.GetDefinition(r.Context(), tenantID, workflowID)
			if err != nil {
				if errors.Is(err, domain.ErrWorkflowNotFound) {
					http.Error(w, "workflow not found", http.StatusNotFound)
					return
				}
				logger.Error("get workflow failed", "workflow_id", workflowID, "error", err)
				http.Error(w, "failed to get workflow", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, def)
		})

		r.Post("/workflows/{id}/active", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid workflow ID", http.StatusBadRequest)
				return
			}

			reqBody, err := decodeSetWorkflowActiveRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			if err := deps.Workflows.SetDefinitionActive(r.Context(), tenantID, workflowID, *reqBody.Active); err != nil {
				if errors.Is(err, domain.ErrWorkflowNotFound) {
					http.Error(w, "workflow not found", http.StatusNotFound)
					return
				}
				logger.Error("set workflow active failed", "workflow_id", workflowID, "error", err)
				http.Error(w, "failed to update workflow", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"id":     workflowID.String(),
				"active": *reqBody.Active,
			})
		})

		// ---------------- RUNS ----------------

		r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			var workflowID uuid.UUID
			if raw := strings.TrimSpace(r.URL.Query().Get("workflow_id")); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					http.Error(w, "invalid workflow_id", http.StatusBadRequest)
					return
				}
				workflowID = parsed
			}

			limit := 0
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = parsed
			}

			runs, err := deps.Runs.ListRuns(r.Context(), tenantID, workflowID, limit)
			if err != nil {
				logger.Error("list runs failed", "error", err)
				http.Error(w, "failed to list runs", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"runs": runs,
			})
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			runID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid run ID", http.StatusBadRequest)
				return
			}

			run, err := deps.Runs.GetRun(r.Context(), tenantID, runID)
			if err != nil {
				if errors.Is(err, domain.ErrRunNotFound) {
					logger.Warn("run not found", "run_id", runID)
					http.Error(w, "run not found", http.StatusNotFound)
					return
				}
				logger.Error("get run failed", "run_id", runID, "error", err)
				http.Error(w, "failed to get run", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/runs/{id}/steps", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			runID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid run ID", http.StatusBadRequest)
				return
			}

			// Hide cross-tenant existence before listing.
			if _, err := deps.Runs.GetRun(r.Context(), tenantID, runID); err != nil {
				if errors.Is(err, domain.ErrRunNotFound) {
					http.Error(w, "run not found", http.StatusNotFound)
					return
				}
				logger.Error("get run failed", "run_id", runID, "error", err)
				http.Error(w, "failed to list steps", http.StatusInternalServerError)
				return
			}

			steps, err := deps.Runs.ListStepExecutions(r.Context(), tenantID, runID)
			if err != nil {
				logger.Error("list steps failed", "run_id", runID, "error", err)
				http.Error(w, "failed to list steps", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				RunID string                 `json:"run_id"`
				Steps []domain.StepExecution `json:"steps"`
			}{
				RunID: runID.String(),
				Steps: steps,
			})
		})

		r.Post("/runs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			runID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid run ID", http.StatusBadRequest)
				return
			}

			if err := deps.Runs.CancelRun(r.Context(), tenantID, runID); err != nil {
				if errors.Is(err, domain.ErrRunNotFound) {
					logger.Warn("run not found", "run_id", runID)
					http.Error(w, "run not found", http.StatusNotFound)
					return
				}
				logger.Error("cancel run failed", "run_id", runID, "error", err)
				http.Error(w, "failed to cancel run", http.StatusInternalServerError)
				return
			}

			logger.Info("run cancelled via API", "run_id", runID)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     runID.String(),
				"status": string(domain.RunCancelled),
			})
		})

		// ---------------- APPROVALS ----------------

		r.Get("/approvals", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			actorID, ok := auth.ActorIDFromContext(r.Context())
			if !ok {
				http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
				return
			}

			approvals, err := deps.ApprovalInbox.ListPendingApprovals(r.Context(), tenantID, actorID)
			if err != nil {
				logger.Error("list pending approvals failed", "error", err)
				http.Error(w, "failed to list approvals", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"approvals": approvals,
			})
		})

		r.Post("/approvals/{id}/decision", func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				http.Error(w, "missing tenant context", http.StatusUnauthorized)
				return
			}

			actorID, ok := auth.ActorIDFromContext(r.Context())
			if !ok {
				http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
				return
			}

			approvalID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid approval ID", http.StatusBadRequest)
				return
			}

			reqBody, err := decodeApprovalDecisionRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			err = deps.Approvals.ResolveApproval(r.Context(), tenantID, actorID, approvalID, domain.ApprovalStatus(reqBody.Status), reqBody.Comment)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrInvalidDecision):
					http.Error(w, "status must be approved or rejected", http.StatusBadRequest)
				case errors.Is(err, domain.ErrApprovalNotFound):
					http.Error(w, "approval not found", http.StatusNotFound)
				case errors.Is(err, domain.ErrNotAuthorized):
					http.Error(w, "not authorized to decide this approval", http.StatusForbidden)
				case errors.Is(err, domain.ErrAlreadyDecided):
					http.Error(w, "approval already decided", http.StatusConflict)
				default:
					logger.Error("resolve approval failed", "approval_id", approvalID, "error", err)
					http.Error(w, "failed to resolve approval", http.StatusInternalServerError)
				}
				return
			}

			logger.Info("approval decided via API", "approval_id", approvalID, "status", reqBody.Status)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     approvalID.String(),
				"status": reqBody.Status,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeIngestEventRequest(r *http.Request) (ingestEventRequest, error) {
	var req ingestEventRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return ingestEventRequest{}, err
	}

	req.EventType = strings.TrimSpace(req.EventType)
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventType == "" {
		return ingestEventRequest{}, errors.New("event_type is required")
	}

	return req, nil
}

func decodeApprovalDecisionRequest(r *http.Request) (approvalDecisionRequest, error) {
	var req approvalDecisionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return approvalDecisionRequest{}, err
	}

	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		return approvalDecisionRequest{}, errors.New("status is required")
	}

	return req, nil
}

func decodeCreateWorkflowRequest(r *http.Request) (createWorkflowRequest, error) {
	var req createWorkflowRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return createWorkflowRequest{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.TriggerType = strings.TrimSpace(req.TriggerType)
	if req.Name == "" {
		return createWorkflowRequest{}, errors.New("name is required")
	}
	if req.TriggerType == "" {
		return createWorkflowRequest{}, errors.New("trigger_type is required")
	}

	return req, nil
}

func decodeSetWorkflowActiveRequest(r *http.Request) (setWorkflowActiveRequest, error) {
	var req setWorkflowActiveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return setWorkflowActiveRequest{}, err
	}
	if req.Active == nil {
		return setWorkflowActiveRequest{}, errors.New("active is required")
	}

	return req, nil
}

func decodeCreateTenantRequest(r *http.Request) (createTenantRequest, error) {
	var req createTenantRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return createTenantRequest{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return createTenantRequest{}, domain.ErrInvalidTenantName
	}

	return req, nil
}

func decodeJSONBody(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
