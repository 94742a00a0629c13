// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request id in context")
		}
		seen = id
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))

	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if got := rec.Header().Get(headerRequestID); got != seen {
		t.Fatalf("expected response header %q got %q", seen, got)
	}
}

func TestRequestIDMiddlewarePreservesCallerID(t *testing.T) {
	callerID := uuid.NewString()

	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := requestIDFromContext(r.Context())
		if id != callerID {
			t.Fatalf("expected caller request id %q got %q", callerID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set(headerRequestID, callerID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(headerRequestID); got != callerID {
		t.Fatalf("expected response header %q got %q", callerID, got)
	}
}

func TestStatusRecorderCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK) // second write header is a no-op

	if sr.status != http.StatusTeapot {
		t.Fatalf("expected recorded status %d got %d", http.StatusTeapot, sr.status)
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected underlying status %d got %d", http.StatusTeapot, rec.Code)
	}
}

func TestStatusRecorderDefaultsToOKOnWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	if _, err := sr.Write([]byte("body")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if sr.status != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, sr.status)
	}
	if rec.Body.String() != "body" {
		t.Fatalf("expected body passthrough, got %q", rec.Body.String())
	}
}
