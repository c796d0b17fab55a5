// Package models defines consent and compliance types shared across modules.
package models

import "time"

// ConsentType identifies what processing the consent covers.
type ConsentType string

const (
	// ConsentTypeEscalationContact covers storing contact details for a human callback.
	ConsentTypeEscalationContact ConsentType = "escalation_contact"
)

// LegalBasis is the GDPR legal basis under which data is processed.
type LegalBasis string

const (
	LegalBasisConsent        LegalBasis = "consent"
	LegalBasisVitalInterests LegalBasis = "vital_interests"
)

// CaptureMethod records how consent (or its override) was obtained.
type CaptureMethod string

const (
	CaptureMethodChatAffirmative        CaptureMethod = "chat_affirmative"
	CaptureMethodVitalInterestsOverride CaptureMethod = "vital_interests_override"
)

// ConsentRecord is the auditable record of a consent decision or override.
type ConsentRecord struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	ConsentType    ConsentType   `json:"consent_type"`
	Purpose        string        `json:"purpose"`
	DataCategories []string      `json:"data_categories"`
	LegalBasis     LegalBasis    `json:"legal_basis"`
	Timestamp      time.Time     `json:"timestamp"`
	CaptureMethod  CaptureMethod `json:"capture_method"`
}

// ConsentStatus is the answer to a consent lookup for a user and type.
type ConsentStatus struct {
	Granted bool `json:"granted"`
	Expired bool `json:"expired"`
}

// ConsentAbsentPolicy selects how the compliance gate treats missing consent.
type ConsentAbsentPolicy string

const (
	// ConsentAbsentCapture auto-enters the escalation subflow's consent step.
	ConsentAbsentCapture ConsentAbsentPolicy = "capture"
	// ConsentAbsentDegraded offers an alternative that collects no data.
	ConsentAbsentDegraded ConsentAbsentPolicy = "degraded"
	// ConsentAbsentBlock blocks the handler outright with an explanation.
	ConsentAbsentBlock ConsentAbsentPolicy = "block"
)
