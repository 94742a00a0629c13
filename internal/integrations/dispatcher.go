// SPDX-License-Identifier: Apache-2.0

// Package integrations talks to the external integration collaborator:
// outbound call dispatch with HMAC-signed payloads, and signature
// verification for the callbacks it sends back.
package integrations

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/operato/workflow-engine/internal/engine/executors"
)

const (
	dispatchRetryAttempts = 3
	dispatchRetryBase     = 300 * time.Millisecond
	HeaderSignature       = "X-Signature"
)

type dispatchPayload struct {
	CallID   string         `json:"call_id"`
	TenantID string         `json:"tenant_id"`
	RunID    string         `json:"run_id"`
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params,omitempty"`
}

// HTTPDispatcher posts integration call requests to the configured
// collaborator URL, signing each body with the shared callback secret.
// A non-2xx after retries is a dispatch failure; the collaborator reports
// the call's real outcome later via the signed callback surface.
type HTTPDispatcher struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPDispatcher(url, secret string, logger *slog.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPDispatcher{
		url:        strings.TrimSpace(url),
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req executors.CallRequest) error {
	if d.url == "" {
		return fmt.Errorf("no integration url configured")
	}

	body, err := json.Marshal(dispatchPayload{
		CallID:   req.CallID,
		TenantID: req.TenantID.String(),
		RunID:    req.RunID.String(),
		Endpoint: req.Endpoint,
		Params:   req.Params,
	})
	if err != nil {
		return err
	}

	signature := SignPayload(d.secret, body)

	var lastErr error
	for attempt := 1; attempt <= dispatchRetryAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if signature != "" {
			httpReq.Header.Set(HeaderSignature, signature)
		}

		resp, err := d.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			d.logger.Warn("integration dispatch failure",
				"call_id", req.CallID,
				"endpoint", req.Endpoint,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				d.logger.Info("integration dispatched",
					"call_id", req.CallID,
					"endpoint", req.Endpoint,
					"attempt", attempt,
				)
				return nil
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			d.logger.Warn("integration dispatch failure",
				"call_id", req.CallID,
				"endpoint", req.Endpoint,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < dispatchRetryAttempts {
			wait := dispatchRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("integration dispatch retries exhausted: %w", lastErr)
}

// SignPayload returns the hex HMAC-SHA256 of the payload, or "" when no
// secret is configured.
func SignPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback body against its X-Signature header
// in constant time. With no secret configured, verification is disabled
// and every signature passes.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := SignPayload(secret, payload)
	if expected == "" {
		return true
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
