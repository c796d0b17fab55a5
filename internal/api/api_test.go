package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CareBridge/CarePath/internal/testutil"
)

func TestMessageEndpoint(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", map[string]string{
		"user_id": "user-1",
		"message": "hello",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /messages")
	response := testutil.AssertJSONResponse(t, rr, "success")

	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing result payload: %v", response)
	}
	if result["conversation_id"] == "" {
		t.Error("a missing conversation_id should be generated")
	}
	if result["session_id"] == "" {
		t.Error("a missing session_id should be generated")
	}
	if text, _ := result["response"].(string); text == "" {
		t.Error("response text should not be empty")
	}
}

func TestMessageEndpointContinuesConversation(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	send := func(body map[string]string) map[string]interface{} {
		t.Helper()
		req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", body)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /messages")
		response := testutil.AssertJSONResponse(t, rr, "success")
		result, _ := response["result"].(map[string]interface{})
		return result
	}

	first := send(map[string]string{"user_id": "user-1", "message": "hello"})
	conversationID, _ := first["conversation_id"].(string)
	if conversationID == "" {
		t.Fatal("first turn should mint a conversation ID")
	}

	second := send(map[string]string{"user_id": "user-1", "message": "speak to a nurse", "conversation_id": conversationID})
	if second["escalation_triggered"] != true {
		t.Errorf("nurse request should trigger escalation: %v", second)
	}
	if second["stage"] != "consent_capture" {
		t.Errorf("stage = %v, want consent_capture", second["stage"])
	}
}

func TestMessageEndpointValidation(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing user_id", map[string]string{"message": "hello"}},
		{"missing message", map[string]string{"user_id": "user-1"}},
		{"blank message", map[string]string{"user_id": "user-1", "message": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", tt.body)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestMessageEndpointRejectsBadJSON(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad JSON")
}

func TestMessageEndpointMethodNotAllowed(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET /messages")
	if allow := rr.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Allow = %q, want POST", allow)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /health")
	response := testutil.AssertJSONResponse(t, rr, "success")
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing health payload: %v", response)
	}
	if result["initialized"] != true {
		t.Errorf("health = %v, want initialized", result)
	}
}

func TestConversationLifecycle(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	// Start a conversation.
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", map[string]string{
		"user_id":         "user-1",
		"message":         "hello",
		"conversation_id": "conv-api-1",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "seed conversation")

	// Inspect it.
	req = httptest.NewRequest(http.MethodGet, "/conversations/conv-api-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET conversation")
	response := testutil.AssertJSONResponse(t, rr, "success")
	state, ok := response["result"].(map[string]interface{})
	if !ok || state["conversation_id"] != "conv-api-1" {
		t.Fatalf("unexpected conversation payload: %v", response)
	}

	// Erase it.
	req = httptest.NewRequest(http.MethodDelete, "/conversations/conv-api-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "DELETE conversation")

	// Gone afterwards.
	req = httptest.NewRequest(http.MethodGet, "/conversations/conv-api-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "GET after delete")
}

func TestConversationMessagesEndpoint(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", map[string]string{
		"user_id":         "user-1",
		"message":         "hello",
		"conversation_id": "conv-log-1",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "seed conversation")

	req = httptest.NewRequest(http.MethodGet, "/conversations/conv-log-1/messages", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET message log")
	response := testutil.AssertJSONResponse(t, rr, "success")

	messages, ok := response["result"].([]interface{})
	if !ok || len(messages) != 2 {
		t.Fatalf("message log = %v, want the user and assistant turn", response["result"])
	}
	first, _ := messages[0].(map[string]interface{})
	if first["role"] != "user" || first["content"] != "hello" {
		t.Errorf("first logged message = %v", first)
	}
}

func TestEscalationsEndpoint(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	// A crisis turn persists an escalation event for the user.
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", map[string]string{
		"user_id": "user-1",
		"message": "I want to die",
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "crisis turn")

	req = httptest.NewRequest(http.MethodGet, "/escalations?user_id=user-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET escalations")
	response := testutil.AssertJSONResponse(t, rr, "success")

	events, ok := response["result"].([]interface{})
	if !ok || len(events) != 1 {
		t.Fatalf("escalations = %v, want one crisis event", response["result"])
	}
	event, _ := events[0].(map[string]interface{})
	if event["priority"] != "high" || event["trigger_type"] != "crisis" {
		t.Errorf("event = %v, want high-priority crisis", event)
	}

	// Missing user_id is rejected.
	req = httptest.NewRequest(http.MethodGet, "/escalations", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "GET escalations without user_id")
}

func TestConversationNotFound(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/conversations/no-such-conversation", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "GET missing conversation")
}

func TestDeleteConversationIdempotent(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	// Erasure of something that never existed still reports success.
	req := httptest.NewRequest(http.MethodDelete, "/conversations/never-existed", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "DELETE missing conversation")
}

func TestMetricsEndpoint(t *testing.T) {
	server := testutil.NewTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /metrics")
	if !strings.Contains(rr.Body.String(), "carepath") {
		t.Errorf("metrics exposition should include carepath collectors")
	}
}
