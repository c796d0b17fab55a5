package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CareBridge/CarePath/internal/models"
)

// mockEscalation records calls to the notification collaborator.
type mockEscalation struct {
	created   []*models.EscalationEvent
	notified  []*models.EscalationEvent
	createErr error
	notifyErr error
}

func (m *mockEscalation) CreateEvent(ctx context.Context, userID, sessionID, message string, safety models.SafetyResult) (*models.EscalationEvent, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	event := &models.EscalationEvent{
		ID:        "event-1",
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Safety:    safety,
		CreatedAt: time.Now(),
	}
	m.created = append(m.created, event)
	return event, nil
}

func (m *mockEscalation) NotifyTeam(ctx context.Context, event *models.EscalationEvent) error {
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notified = append(m.notified, event)
	return nil
}

func convWithEscalation(esc models.EscalationState) *models.ConversationState {
	return &models.ConversationState{
		ConversationID: "conv-1",
		UserID:         "user-1",
		SessionID:      "sess-1",
		CurrentStage:   models.StageContactCollection,
		Subflow:        models.SubflowContext{Kind: models.SubflowEscalation, Escalation: &esc},
	}
}

func newTestSubflow(escalation EscalationService) *EscalationSubflow {
	gate := NewComplianceGate(&mockGDPR{})
	return NewEscalationSubflow(escalation, gate)
}

func TestEscalationHappyPath(t *testing.T) {
	escalation := &mockEscalation{}
	sf := newTestSubflow(escalation)
	ctx := context.Background()

	esc := sf.Start(models.TriggerUserRequest, "i'd like to speak to a nurse")
	if esc.Step != models.EscalationStepConsent || !esc.IsActive {
		t.Fatalf("Start = %+v, want active consent step", esc)
	}

	// consent -> name
	outcome, err := sf.Advance(ctx, "yes", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepName {
		t.Fatalf("after consent step = %q, want name", outcome.Escalation.Step)
	}
	if !outcome.Escalation.ConsentGiven || !outcome.ConsentRecorded {
		t.Error("affirmative consent should be recorded")
	}

	// name -> contact_method
	outcome, err = sf.Advance(ctx, "my name is sarah", convWithEscalation(outcome.Escalation))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepContactMethod {
		t.Fatalf("after name step = %q, want contact_method", outcome.Escalation.Step)
	}
	if outcome.Escalation.UserName != "Sarah" {
		t.Errorf("captured name = %q, want Sarah", outcome.Escalation.UserName)
	}

	// contact_method -> contact_details
	outcome, err = sf.Advance(ctx, "1", convWithEscalation(outcome.Escalation))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepContactDetails {
		t.Fatalf("after method step = %q, want contact_details", outcome.Escalation.Step)
	}
	if outcome.Escalation.ContactMethod != models.ContactMethodPhone {
		t.Errorf("method = %q, want phone", outcome.Escalation.ContactMethod)
	}

	// contact_details -> confirmation, with the number normalized
	outcome, err = sf.Advance(ctx, "07123 456789", convWithEscalation(outcome.Escalation))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepConfirmation {
		t.Fatalf("after details step = %q, want confirmation", outcome.Escalation.Step)
	}
	if outcome.Escalation.ContactDetails != "+447123456789" {
		t.Errorf("details = %q, want +447123456789", outcome.Escalation.ContactDetails)
	}
	if !strings.Contains(outcome.Response.Text, "Sarah") || !strings.Contains(outcome.Response.Text, "+447123456789") {
		t.Errorf("confirmation should recap name and number: %q", outcome.Response.Text)
	}

	// confirmation -> completed, exactly one dispatch
	outcome, err = sf.Advance(ctx, "yes", convWithEscalation(outcome.Escalation))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepCompleted || !outcome.Ended || !outcome.Dispatched {
		t.Fatalf("final outcome = %+v, want completed/ended/dispatched", outcome)
	}
	if len(escalation.notified) != 1 {
		t.Fatalf("NotifyTeam called %d times, want exactly 1", len(escalation.notified))
	}
	event := escalation.notified[0]
	if event.Contact.Phone != "+447123456789" || event.Contact.Name != "Sarah" {
		t.Errorf("dispatched contact = %+v", event.Contact)
	}
	if outcome.Contact == nil || outcome.Contact.Phone != "+447123456789" {
		t.Errorf("outcome contact = %+v", outcome.Contact)
	}
}

func TestEscalationConsentDeclined(t *testing.T) {
	escalation := &mockEscalation{}
	sf := newTestSubflow(escalation)

	esc := sf.Start(models.TriggerUserRequest, "speak to a nurse")
	outcome, err := sf.Advance(context.Background(), "no thanks", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Ended || outcome.Escalation.IsActive {
		t.Error("decline should end the subflow")
	}
	if outcome.Escalation.ConsentGiven {
		t.Error("decline must not record consent")
	}
	if len(escalation.notified) != 0 {
		t.Error("decline must not dispatch anything")
	}
}

func TestEscalationCancellationClearsContact(t *testing.T) {
	escalation := &mockEscalation{}
	sf := newTestSubflow(escalation)

	esc := sf.StartWithConsent(models.TriggerUserRequest, "speak to a nurse")
	esc.Step = models.EscalationStepContactDetails
	esc.UserName = "Sarah"
	esc.ContactMethod = models.ContactMethodPhone

	outcome, err := sf.Advance(context.Background(), "cancel", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepCancelled || !outcome.Ended {
		t.Fatalf("outcome = %+v, want cancelled/ended", outcome.Escalation)
	}
	if !outcome.ClearContact {
		t.Error("cancellation must request erasure of captured contact info")
	}
	if len(escalation.notified) != 0 {
		t.Error("cancellation must not dispatch")
	}
}

func TestEscalationTimeoutBeatsMessageContent(t *testing.T) {
	escalation := &mockEscalation{}
	sf := newTestSubflow(escalation)

	esc := sf.StartWithConsent(models.TriggerUserRequest, "speak to a nurse")
	esc.Step = models.EscalationStepConfirmation
	esc.UserName = "Sarah"
	esc.ContactMethod = models.ContactMethodPhone
	esc.ContactDetails = "+447123456789"
	esc.StartTime = time.Now().Add(-DefaultEscalationTimeout - time.Minute)

	// Even a valid confirmation must lose to the expired ceiling.
	outcome, err := sf.Advance(context.Background(), "yes", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepTimeout || !outcome.Ended {
		t.Fatalf("outcome step = %q, want timeout", outcome.Escalation.Step)
	}
	if !outcome.ClearContact {
		t.Error("timeout must clear captured contact info")
	}
	if len(escalation.notified) != 0 {
		t.Error("timeout must not dispatch")
	}
}

func TestEscalationInvalidDetailsReprompt(t *testing.T) {
	sf := newTestSubflow(&mockEscalation{})

	esc := sf.StartWithConsent(models.TriggerUserRequest, "speak to a nurse")
	esc.Step = models.EscalationStepContactDetails
	esc.UserName = "Sarah"
	esc.ContactMethod = models.ContactMethodPhone

	outcome, err := sf.Advance(context.Background(), "1234", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepContactDetails {
		t.Errorf("invalid details should stay on contact_details, got %q", outcome.Escalation.Step)
	}
	if outcome.Ended {
		t.Error("re-prompt must not end the subflow")
	}
	if !strings.Contains(outcome.Response.Text, "valid phone number") {
		t.Errorf("re-prompt should explain the failure: %q", outcome.Response.Text)
	}
}

func TestEscalationEditReturnsToContactMethod(t *testing.T) {
	sf := newTestSubflow(&mockEscalation{})

	esc := sf.StartWithConsent(models.TriggerUserRequest, "speak to a nurse")
	esc.Step = models.EscalationStepConfirmation
	esc.UserName = "Sarah"
	esc.ContactMethod = models.ContactMethodPhone
	esc.ContactDetails = "+447123456789"

	outcome, err := sf.Advance(context.Background(), "change", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Escalation.Step != models.EscalationStepContactMethod {
		t.Errorf("edit should return to contact_method, got %q", outcome.Escalation.Step)
	}
}

func TestEscalationDispatchFailure(t *testing.T) {
	escalation := &mockEscalation{notifyErr: errors.New("sms gateway down")}
	sf := newTestSubflow(escalation)

	esc := sf.StartWithConsent(models.TriggerUserRequest, "speak to a nurse")
	esc.Step = models.EscalationStepConfirmation
	esc.UserName = "Sarah"
	esc.ContactMethod = models.ContactMethodPhone
	esc.ContactDetails = "+447123456789"

	outcome, err := sf.Advance(context.Background(), "yes", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Ended || outcome.Dispatched {
		t.Fatalf("dispatch failure outcome = %+v, want ended and not dispatched", outcome)
	}
	if outcome.Escalation.Step == models.EscalationStepCompleted {
		t.Error("a failed dispatch must not report completed")
	}
	if !strings.Contains(outcome.Response.Text, "111") {
		t.Errorf("failure copy should offer the manual channel: %q", outcome.Response.Text)
	}
}

func TestEscalationTimeoutWarning(t *testing.T) {
	sf := newTestSubflow(&mockEscalation{})

	esc := sf.StartWithConsent(models.TriggerUserRequest, "speak to a nurse")
	esc.Step = models.EscalationStepName
	// Into the final quarter of the allowed time.
	esc.StartTime = time.Now().Add(-DefaultEscalationTimeout * 4 / 5)

	outcome, err := sf.Advance(context.Background(), "sarah", convWithEscalation(esc))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(outcome.Response.Text, "expire soon") {
		t.Errorf("response should warn about expiry: %q", outcome.Response.Text)
	}
	if !outcome.Escalation.TimeoutWarning {
		t.Error("timeout warning flag should be set")
	}
}

func TestStartWithConsentCrisisPriority(t *testing.T) {
	sf := newTestSubflow(&mockEscalation{})
	esc := sf.StartWithConsent(models.TriggerCrisis, "mild wording")
	if esc.Priority != models.EscalationPriorityHigh {
		t.Errorf("crisis-seeded priority = %q, want high", esc.Priority)
	}
	if esc.Step != models.EscalationStepName || !esc.ConsentGiven {
		t.Errorf("StartWithConsent = %+v, want name step with consent", esc)
	}
}

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		message string
		want    models.EscalationPriority
	}{
		{"i need help right now, chest pain", models.EscalationPriorityHigh},
		{"it's urgent", models.EscalationPriorityHigh},
		{"i'm worried about this mole", models.EscalationPriorityMedium},
		{"can a nurse ring me sometime", models.EscalationPriorityLow},
	}
	for _, tt := range tests {
		if got := DerivePriority(tt.message); got != tt.want {
			t.Errorf("DerivePriority(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestAdvanceRejectsInactiveSubflow(t *testing.T) {
	sf := newTestSubflow(&mockEscalation{})
	conv := infoState()
	if _, err := sf.Advance(context.Background(), "yes", conv); err == nil {
		t.Fatal("Advance without an active subflow should error")
	}
}
