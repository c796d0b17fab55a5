// Package flow provides the compliance gate that arbitrates consent before
// handler execution.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareBridge/CarePath/internal/models"
	"github.com/google/uuid"
)

// DefaultRecentCrisisWindow is how long after a crisis turn the
// vital-interests override keeps applying.
const DefaultRecentCrisisWindow = 10 * time.Minute

// ComplianceDecision is the outcome of a compliance gate check.
type ComplianceDecision string

const (
	// DecisionAllow proceeds to the handler unchanged.
	DecisionAllow ComplianceDecision = "allow"
	// DecisionRenewConsent routes to the renewal variant of the consent prompt.
	DecisionRenewConsent ComplianceDecision = "renew_consent"
	// DecisionCaptureConsent auto-enters the escalation subflow's consent step.
	DecisionCaptureConsent ComplianceDecision = "capture_consent"
	// DecisionDegraded offers a no-data-collection alternative.
	DecisionDegraded ComplianceDecision = "degraded"
	// DecisionBlock blocks the handler outright with an explanation.
	DecisionBlock ComplianceDecision = "block"
	// DecisionVitalInterests bypasses consent under the vital-interests legal basis.
	DecisionVitalInterests ComplianceDecision = "vital_interests"
)

// ComplianceGate wraps execution of handlers whose descriptors require
// consent. The vital-interests override applies only when the current turn,
// or a turn within the recent-crisis window, was classified as a crisis; it
// is recorded auditably every time it is used.
type ComplianceGate struct {
	gdpr         GDPRService
	absentPolicy models.ConsentAbsentPolicy
	crisisWindow time.Duration
}

// NewComplianceGate creates a gate with the default absent-consent policy
// (auto-capture) and recent-crisis window.
func NewComplianceGate(gdpr GDPRService) *ComplianceGate {
	return NewComplianceGateWithPolicy(gdpr, models.ConsentAbsentCapture, DefaultRecentCrisisWindow)
}

// NewComplianceGateWithPolicy creates a gate with an explicit absent-consent
// policy and crisis window.
func NewComplianceGateWithPolicy(gdpr GDPRService, policy models.ConsentAbsentPolicy, crisisWindow time.Duration) *ComplianceGate {
	slog.Debug("flow.NewComplianceGateWithPolicy: creating compliance gate", "policy", policy, "crisisWindow", crisisWindow)
	if crisisWindow <= 0 {
		crisisWindow = DefaultRecentCrisisWindow
	}
	return &ComplianceGate{gdpr: gdpr, absentPolicy: policy, crisisWindow: crisisWindow}
}

// Check decides whether a consent-requiring handler may run for this turn.
// The safety result is the current turn's; the state supplies the recent
// crisis timestamp. Lookup failures are returned to the caller, which must
// degrade safely rather than assume consent.
func (g *ComplianceGate) Check(ctx context.Context, userID string, consentType models.ConsentType, safety models.SafetyResult, state *models.ConversationState) (ComplianceDecision, error) {
	if g.crisisOverrideApplies(safety, state) {
		if err := g.recordOverride(ctx, userID, consentType); err != nil {
			// The override stands even if the audit write fails; blocking a
			// crisis turn on a storage fault would invert the safety ordering.
			slog.Error("ComplianceGate.Check: failed to record vital-interests override", "error", err, "userID", userID)
		}
		slog.Info("ComplianceGate.Check: consent bypassed under vital interests", "userID", userID, "consentType", consentType)
		return DecisionVitalInterests, nil
	}

	if g.gdpr == nil {
		// No consent backend: nothing can be on record, so the absent policy
		// applies directly.
		return g.absentDecision(), nil
	}

	status, err := g.gdpr.GetConsentStatus(ctx, userID, consentType)
	if err != nil {
		slog.Error("ComplianceGate.Check: consent lookup failed", "error", err, "userID", userID, "consentType", consentType)
		return "", fmt.Errorf("consent lookup failed: %w", err)
	}

	switch {
	case status.Granted && !status.Expired:
		return DecisionAllow, nil
	case status.Granted && status.Expired:
		slog.Debug("ComplianceGate.Check: consent expired, requesting renewal", "userID", userID)
		return DecisionRenewConsent, nil
	default:
		return g.absentDecision(), nil
	}
}

func (g *ComplianceGate) absentDecision() ComplianceDecision {
	switch g.absentPolicy {
	case models.ConsentAbsentDegraded:
		return DecisionDegraded
	case models.ConsentAbsentBlock:
		return DecisionBlock
	default:
		return DecisionCaptureConsent
	}
}

// RecordConsent produces and persists a ConsentRecord for an explicit
// affirmative captured in chat.
func (g *ComplianceGate) RecordConsent(ctx context.Context, userID string, consentType models.ConsentType) (*models.ConsentRecord, error) {
	if g.gdpr == nil {
		return nil, fmt.Errorf("no consent backend configured")
	}
	record := models.ConsentRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConsentType:    consentType,
		Purpose:        "arrange a callback from the nursing team",
		DataCategories: []string{"name", "contact_details"},
		LegalBasis:     models.LegalBasisConsent,
		Timestamp:      time.Now(),
		CaptureMethod:  models.CaptureMethodChatAffirmative,
	}
	if err := g.gdpr.RecordConsent(ctx, record); err != nil {
		slog.Error("ComplianceGate.RecordConsent: failed to persist consent", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to record consent: %w", err)
	}
	slog.Info("ComplianceGate.RecordConsent: consent recorded", "userID", userID, "consentType", consentType)
	return &record, nil
}

// crisisOverrideApplies reports whether the vital-interests override is in
// effect: a crisis on the current turn, or one within the recent-crisis window.
func (g *ComplianceGate) crisisOverrideApplies(safety models.SafetyResult, state *models.ConversationState) bool {
	if safety.IsCrisis {
		return true
	}
	if state != nil && !state.LastCrisisAt.IsZero() && time.Since(state.LastCrisisAt) <= g.crisisWindow {
		return true
	}
	return false
}

// RecordOverride writes the auditable record for a vital-interests bypass.
// Callers that short-circuit on crisis use this directly; Check records the
// override itself when it returns DecisionVitalInterests.
func (g *ComplianceGate) RecordOverride(ctx context.Context, userID string, consentType models.ConsentType) error {
	if g.gdpr == nil {
		return nil
	}
	return g.recordOverride(ctx, userID, consentType)
}

func (g *ComplianceGate) recordOverride(ctx context.Context, userID string, consentType models.ConsentType) error {
	record := models.ConsentRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConsentType:    consentType,
		Purpose:        "crisis escalation without prior consent",
		DataCategories: []string{"name", "contact_details", "message_content"},
		LegalBasis:     models.LegalBasisVitalInterests,
		Timestamp:      time.Now(),
		CaptureMethod:  models.CaptureMethodVitalInterestsOverride,
	}
	return g.gdpr.RecordConsent(ctx, record)
}
