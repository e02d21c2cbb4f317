package apierr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/matchcache/internal/logger"
)

func TestNew(t *testing.T) {
	err := New(ErrSystemTimeout, "timeout occurred", http.StatusGatewayTimeout)
	if err.Code != ErrSystemTimeout {
		t.Errorf("expected code %s, got %s", ErrSystemTimeout, err.Code)
	}
	if err.Message != "timeout occurred" {
		t.Errorf("expected message 'timeout occurred', got '%s'", err.Message)
	}
	if err.Status() != http.StatusGatewayTimeout {
		t.Errorf("expected status %d, got %d", http.StatusGatewayTimeout, err.Status())
	}
}

func TestErrorInterface(t *testing.T) {
	err := New(ErrRemoteFailed, "bad gateway", http.StatusBadGateway)
	if got, want := err.Error(), "REMOTE_FAILED: bad gateway"; got != want {
		t.Errorf("expected error string %s, got %s", want, got)
	}
}

func TestWriteErrorWithContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/documents/m1", nil)
	req = req.WithContext(context.WithValue(req.Context(), logger.RequestIDKey, "req-123"))
	w := httptest.NewRecorder()

	WriteErrorWithContext(w, req, DocumentNotFound("m1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error in response")
	}
	if resp.Error.Code != ErrDocumentNotFound {
		t.Errorf("expected code %s, got %s", ErrDocumentNotFound, resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID 'req-123', got '%s'", resp.Error.RequestID)
	}
	if resp.Error.Details["id"] != "m1" {
		t.Errorf("expected details.id 'm1', got %v", resp.Error.Details["id"])
	}
}

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		name       string
		createErr  func() *Error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"DocumentNotFound", func() *Error { return DocumentNotFound("x") }, ErrDocumentNotFound, http.StatusNotFound},
		{"RemoteUnavailable", func() *Error { return RemoteUnavailable("") }, ErrRemoteUnavailable, http.StatusServiceUnavailable},
		{"RemoteFailed", func() *Error { return RemoteFailed("") }, ErrRemoteFailed, http.StatusBadGateway},
		{"SystemInternal", func() *Error { return SystemInternal("") }, ErrSystemInternal, http.StatusInternalServerError},
		{"SystemTimeout", func() *Error { return SystemTimeout("") }, ErrSystemTimeout, http.StatusGatewayTimeout},
		{"ValidationInvalidJSON", ValidationInvalidJSON, ErrValidationInvalidJSON, http.StatusBadRequest},
		{"ValidationMissingField", func() *Error { return ValidationMissingField("refs") }, ErrValidationMissingField, http.StatusBadRequest},
		{"ValidationInvalidValue", func() *Error { return ValidationInvalidValue("refs", "") }, ErrValidationInvalidValue, http.StatusBadRequest},
		{"ValidationTooLarge", func() *Error { return ValidationTooLarge(1024) }, ErrValidationTooLarge, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createErr()
			if err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, err.Code)
			}
			if err.Status() != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, err.Status())
			}
			if err.Message == "" {
				t.Error("expected a default message")
			}
		})
	}
}

func TestValidationMissingFieldDetails(t *testing.T) {
	err := ValidationMissingField("refs")
	if field, ok := err.Details["field"]; !ok || field != "refs" {
		t.Errorf("expected details.field 'refs', got %v", field)
	}
}
