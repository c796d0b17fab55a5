// Package api provides HTTP handlers for CarePath endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/util"
)

// messageRequest is the body of POST /messages. ConversationID and SessionID
// are optional; missing IDs are generated so one round trip starts a
// conversation.
type messageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id,omitempty"`
	Message        string `json:"message"`
}

// messageResult is the result payload for POST /messages.
type messageResult struct {
	ConversationID      string   `json:"conversation_id"`
	SessionID           string   `json:"session_id"`
	Response            string   `json:"response"`
	SuggestedActions    []string `json:"suggested_actions,omitempty"`
	Stage               string   `json:"stage,omitempty"`
	EscalationTriggered bool     `json:"escalation_triggered"`
	ConversationEnded   bool     `json:"conversation_ended"`
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.messageHandler: processing message request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("message cannot be empty"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = util.GenerateConversationID()
	}
	if req.SessionID == "" {
		req.SessionID = util.GenerateSessionID()
	}

	result, err := s.engine.ProcessMessage(r.Context(), req.ConversationID, req.UserID, req.Message, req.SessionID)
	if err != nil {
		slog.Warn("Server.messageHandler: rejected message", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	payload := messageResult{
		ConversationID:      req.ConversationID,
		SessionID:           req.SessionID,
		Response:            result.Response.Text,
		SuggestedActions:    result.Response.SuggestedActions,
		EscalationTriggered: result.EscalationTriggered,
		ConversationEnded:   result.ConversationEnded,
	}
	if result.NewState != nil {
		payload.Stage = string(result.NewState.CurrentStage)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(payload))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	health := s.engine.Health()
	status := http.StatusOK
	if !health.Initialized {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, models.Success(health))
}

// conversationHandler routes /conversations/{id} for inspection (GET) and
// erasure (DELETE), and /conversations/{id}/messages for the message log.
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if rest, ok := strings.CutSuffix(conversationID, "/messages"); ok && rest != "" && !strings.Contains(rest, "/") {
		s.conversationMessagesHandler(w, r, rest)
		return
	}
	if conversationID == "" || strings.Contains(conversationID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getConversationHandler(w, r, conversationID)
	case http.MethodDelete:
		s.deleteConversationHandler(w, r, conversationID)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	state, err := s.stateManager.GetCurrent(r.Context(), conversationID)
	if errors.Is(err, models.ErrConversationGone) && s.st != nil {
		// Not live; fall back to the persisted snapshot.
		state, err = s.st.GetConversation(conversationID)
		if err == nil && state == nil {
			err = models.ErrConversationGone
		}
	}
	if errors.Is(err, models.ErrConversationGone) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if err != nil {
		slog.Error("Server.getConversationHandler: lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// conversationMessagesHandler returns the durable message log for a
// conversation. The in-state history is bounded to recent turns; the log is
// the full record.
func (s *Server) conversationMessagesHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.st == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Message log not available"))
		return
	}
	messages, err := s.st.GetMessages(conversationID)
	if err != nil {
		slog.Error("Server.conversationMessagesHandler: lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// escalationsHandler lists a user's escalation events for the on-call team.
func (s *Server) escalationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	if s.st == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Escalation log not available"))
		return
	}
	events, err := s.st.GetEscalationEvents(userID)
	if err != nil {
		slog.Error("Server.escalationsHandler: lookup failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load escalation events"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}

func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	err := s.stateManager.Delete(r.Context(), conversationID)
	if errors.Is(err, models.ErrConversationGone) && s.st != nil {
		// Erasure must cover persisted data even when nothing is live.
		err = s.st.DeleteConversation(conversationID)
	}
	if err != nil && !errors.Is(err, models.ErrConversationGone) {
		slog.Error("Server.deleteConversationHandler: delete failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete conversation"))
		return
	}
	slog.Info("Server.deleteConversationHandler: conversation erased", "conversationID", conversationID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}
