// Package testutil provides common test utilities and helpers for CarePath tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CareBridge/CarePath/internal/api"
	"github.com/CareBridge/CarePath/internal/consent"
	"github.com/CareBridge/CarePath/internal/flow"
	"github.com/CareBridge/CarePath/internal/notify"
	"github.com/CareBridge/CarePath/internal/store"
)

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the server creation logic used across API test files.
func NewTestServer(t *testing.T) *api.Server {
	t.Helper()
	st := store.NewInMemoryStore()
	stateManager := flow.NewStateManagerWithOptions(flow.DefaultConversationTTL, st)
	engine, err := flow.NewEngine(flow.EngineOptions{
		StateManager: stateManager,
		Escalation:   notify.NewService(notify.WithStore(st)),
		GDPR:         consent.NewService(st),
	})
	if err != nil {
		t.Fatalf("failed to build test engine: %v", err)
	}
	return api.NewServer(engine, stateManager, st)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, url, reqBody)
	req.Header.Set("Content-Type", "application/json")
	return req
}
