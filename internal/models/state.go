// Package models defines conversation state types shared across modules.
package models

import "time"

// Stage represents a named phase within a topic's mini-workflow.
type Stage string

// Stage constants for the conversation workflow.
const (
	StageInformationGathering Stage = "information_gathering"
	StageConsentCapture       Stage = "consent_capture"
	StageContactCollection    Stage = "contact_collection"
	StageClosing              Stage = "closing"
)

// IsValidStage checks if the given stage is supported.
func IsValidStage(s Stage) bool {
	switch s {
	case StageInformationGathering, StageConsentCapture, StageContactCollection, StageClosing:
		return true
	default:
		return false
	}
}

// ContactMethod represents the channel a user chose for a callback.
type ContactMethod string

const (
	ContactMethodPhone ContactMethod = "phone"
	ContactMethodEmail ContactMethod = "email"
)

// ContactInfo holds the (possibly partial) callback details collected so far.
type ContactInfo struct {
	Name            string        `json:"name,omitempty"`
	Phone           string        `json:"phone,omitempty"`
	Email           string        `json:"email,omitempty"`
	PreferredMethod ContactMethod `json:"preferred_method,omitempty"`
}

// ConversationMessage represents a single message in the conversation history.
type ConversationMessage struct {
	Role      string    `json:"role"`      // "user" or "assistant"
	Content   string    `json:"content"`   // message content
	Timestamp time.Time `json:"timestamp"` // when the message was sent
}

// SubflowKind tags which nested dialog, if any, is currently active.
type SubflowKind string

const (
	SubflowNone       SubflowKind = "none"
	SubflowEscalation SubflowKind = "escalation"
)

// SubflowContext is a tagged variant for the active subflow. Exactly the
// fields of the active kind are populated; Escalation is nil unless
// Kind == SubflowEscalation.
type SubflowContext struct {
	Kind       SubflowKind      `json:"kind"`
	Escalation *EscalationState `json:"escalation,omitempty"`
}

// ConversationState is the durable in-process state for one conversation.
// It is owned exclusively by the state manager; handlers receive a copy and
// request mutations through patches, never in place.
type ConversationState struct {
	ConversationID          string                `json:"conversation_id"`
	UserID                  string                `json:"user_id"`
	SessionID               string                `json:"session_id,omitempty"`
	CurrentTopic            string                `json:"current_topic,omitempty"`
	CurrentStage            Stage                 `json:"current_stage"`
	HasSeenOpeningStatement bool                  `json:"has_seen_opening_statement"`
	ConversationStarted     bool                  `json:"conversation_started"`
	ContactInfo             ContactInfo           `json:"contact_info"`
	Subflow                 SubflowContext        `json:"subflow"`
	History                 []ConversationMessage `json:"history,omitempty"`
	LastCrisisAt            time.Time             `json:"last_crisis_at,omitempty"`
	CreatedAt               time.Time             `json:"created_at"`
	LastActivityAt          time.Time             `json:"last_activity_at"`
	ExpiresAt               time.Time             `json:"expires_at"`
}

// Clone returns a deep copy of the state. Commits operate on a clone so a
// failed patch never leaves partially applied fields visible.
func (s *ConversationState) Clone() *ConversationState {
	cp := *s
	if s.History != nil {
		cp.History = make([]ConversationMessage, len(s.History))
		copy(cp.History, s.History)
	}
	if s.Subflow.Escalation != nil {
		esc := *s.Subflow.Escalation
		cp.Subflow.Escalation = &esc
	}
	return &cp
}

// StatePatch is a partial update to a ConversationState. Nil fields are left
// untouched; a commit applies the whole patch atomically or not at all.
type StatePatch struct {
	CurrentTopic            *string
	CurrentStage            *Stage
	HasSeenOpeningStatement *bool
	ConversationStarted     *bool
	ContactInfo             *ContactInfo
	Subflow                 *SubflowContext
	LastCrisisAt            *time.Time
}

// Apply folds the patch into the given state. The caller is responsible for
// passing a clone when atomicity against readers matters.
func (p StatePatch) Apply(s *ConversationState) {
	if p.CurrentTopic != nil {
		s.CurrentTopic = *p.CurrentTopic
	}
	if p.CurrentStage != nil {
		s.CurrentStage = *p.CurrentStage
	}
	if p.HasSeenOpeningStatement != nil {
		s.HasSeenOpeningStatement = *p.HasSeenOpeningStatement
	}
	if p.ConversationStarted != nil {
		s.ConversationStarted = *p.ConversationStarted
	}
	if p.ContactInfo != nil {
		s.ContactInfo = *p.ContactInfo
	}
	if p.Subflow != nil {
		s.Subflow = *p.Subflow
		if s.Subflow.Kind != SubflowEscalation {
			s.Subflow.Escalation = nil
		}
	}
	if p.LastCrisisAt != nil {
		s.LastCrisisAt = *p.LastCrisisAt
	}
}

// Pointer helpers for building patches.

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string { return &s }

// StagePtr returns a pointer to the given stage.
func StagePtr(s Stage) *Stage { return &s }

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }

// TimePtr returns a pointer to the given time.
func TimePtr(t time.Time) *time.Time { return &t }
