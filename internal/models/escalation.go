// Package models defines escalation subflow types shared across modules.
package models

import "time"

// EscalationStep represents the current step of the nurse-callback subflow.
type EscalationStep string

const (
	EscalationStepNone           EscalationStep = "none"
	EscalationStepConsent        EscalationStep = "consent"
	EscalationStepName           EscalationStep = "name"
	EscalationStepContactMethod  EscalationStep = "contact_method"
	EscalationStepContactDetails EscalationStep = "contact_details"
	EscalationStepConfirmation   EscalationStep = "confirmation"
	EscalationStepCompleted      EscalationStep = "completed"
	EscalationStepCancelled      EscalationStep = "cancelled"
	EscalationStepTimeout        EscalationStep = "timeout"
)

// IsTerminal reports whether the step ends the subflow.
func (s EscalationStep) IsTerminal() bool {
	switch s {
	case EscalationStepCompleted, EscalationStepCancelled, EscalationStepTimeout:
		return true
	default:
		return false
	}
}

// EscalationTrigger describes what caused the subflow to start.
type EscalationTrigger string

const (
	// TriggerUserRequest is an explicit request to speak to a human.
	TriggerUserRequest EscalationTrigger = "user_request"
	// TriggerOfferAccepted is an accepted offer of human support.
	TriggerOfferAccepted EscalationTrigger = "offer_accepted"
	// TriggerCrisis is a crisis-seeded escalation under vital interests.
	TriggerCrisis EscalationTrigger = "crisis"
)

// EscalationPriority is an informational urgency classification. It affects
// the SLA copy shown to the user only, never the transition logic.
type EscalationPriority string

const (
	EscalationPriorityLow    EscalationPriority = "low"
	EscalationPriorityMedium EscalationPriority = "medium"
	EscalationPriorityHigh   EscalationPriority = "high"
)

// EscalationState is the nested state machine for collecting a human
// callback request. It lives inside ConversationState's subflow context while
// active and is discarded when a terminal step is reached.
type EscalationState struct {
	IsActive       bool               `json:"is_active"`
	Step           EscalationStep     `json:"step"`
	TriggerType    EscalationTrigger  `json:"trigger_type"`
	Priority       EscalationPriority `json:"priority"`
	StartTime      time.Time          `json:"start_time"`
	ConsentGiven   bool               `json:"consent_given"`
	UserName       string             `json:"user_name,omitempty"`
	ContactMethod  ContactMethod      `json:"contact_method,omitempty"`
	ContactDetails string             `json:"contact_details,omitempty"`
	TimeoutWarning bool               `json:"timeout_warning"`
}

// EscalationEvent is the record handed to the human team when a callback
// request completes or a crisis is detected.
type EscalationEvent struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	SessionID   string             `json:"session_id,omitempty"`
	Message     string             `json:"message"`
	TriggerType EscalationTrigger  `json:"trigger_type"`
	Priority    EscalationPriority `json:"priority"`
	Safety      SafetyResult       `json:"safety"`
	Contact     ContactInfo        `json:"contact"`
	CreatedAt   time.Time          `json:"created_at"`
}
