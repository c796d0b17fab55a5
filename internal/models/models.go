// Package models defines the core data structures for CarePath.
//
// It includes conversation state, topic handler descriptors, escalation and
// consent types, which are shared across modules. Shared types live here to
// avoid circular imports between flow, safety, store and api.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for an inbound message body
	MaxMessageLength = 4096
	// MaxHistoryMessages defines how many messages of history a conversation retains
	MaxHistoryMessages = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID = errors.New("conversation ID cannot be empty")
	ErrEmptyUserID         = errors.New("user ID cannot be empty")
	ErrEmptyMessage        = errors.New("message cannot be empty")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
	ErrConversationGone    = errors.New("conversation not found")
	ErrInvalidPhone        = errors.New("phone number is not a valid UK number")
	ErrInvalidEmail        = errors.New("email address is not valid")
	ErrInvalidName         = errors.New("name must be at least 2 alphabetic characters")
)

// TransitionError indicates an illegal topic/stage transition was requested.
type TransitionError struct {
	ConversationID string
	Topic          string
	Stage          Stage
	Reason         string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for conversation %s to topic %s stage %s: %s", e.ConversationID, e.Topic, e.Stage, e.Reason)
}

// Severity classifies how acute a detected crisis signal is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// SafetyResult is the outcome of crisis classification for a single message.
type SafetyResult struct {
	IsCrisis     bool     `json:"is_crisis"`
	Severity     Severity `json:"severity,omitempty"`
	MatchedLabel string   `json:"matched_label,omitempty"`
}

// InboundMessage represents a single user message entering the pipeline.
type InboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Validate performs validation on an inbound message.
func (m *InboundMessage) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyConversationID
	}
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Body == "" {
		return ErrEmptyMessage
	}
	if len(m.Body) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ResponseContent is the user-facing portion of a processing result.
type ResponseContent struct {
	Text             string   `json:"text"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
}

// ProcessResult is the complete outcome of processing one conversation turn.
// ProcessMessage always returns a well-formed result; it never returns a
// partially populated one on internal failure.
type ProcessResult struct {
	Response            ResponseContent    `json:"response"`
	NewState            *ConversationState `json:"new_state,omitempty"`
	Safety              SafetyResult       `json:"safety"`
	EscalationTriggered bool               `json:"escalation_triggered"`
	ConversationEnded   bool               `json:"conversation_ended"`
}

// HealthStatus reports the operational state of the flow engine.
type HealthStatus struct {
	Initialized          bool              `json:"initialized"`
	RegisteredTopicCount int               `json:"registered_topic_count"`
	PerServiceStatus     map[string]string `json:"per_service_status"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
