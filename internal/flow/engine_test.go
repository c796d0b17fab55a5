package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CareBridge/CarePath/internal/metrics"
	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/store"
)

// mockContent is a canned ContentService.
type mockContent struct {
	snippets []string
	err      error
}

func (m *mockContent) Search(ctx context.Context, query string) ([]string, error) {
	return m.snippets, m.err
}

type engineFixture struct {
	engine     *Engine
	escalation *mockEscalation
	gdpr       *mockGDPR
	content    *mockContent
}

func newTestEngine(t *testing.T) *engineFixture {
	t.Helper()
	escalation := &mockEscalation{}
	gdpr := &mockGDPR{}
	content := &mockContent{snippets: []string{"Flu symptoms include fever, aches and a cough."}}

	engine, err := NewEngine(EngineOptions{
		StateManager: NewStateManagerWithOptions(30*time.Minute, store.NewInMemoryStore()),
		Content:      content,
		Escalation:   escalation,
		GDPR:         gdpr,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return &engineFixture{engine: engine, escalation: escalation, gdpr: gdpr, content: content}
}

func (f *engineFixture) send(t *testing.T, message string) *models.ProcessResult {
	t.Helper()
	result, err := f.engine.ProcessMessage(context.Background(), "conv-1", "user-1", message, "sess-1")
	if err != nil {
		t.Fatalf("ProcessMessage(%q) failed: %v", message, err)
	}
	if result == nil || result.Response.Text == "" {
		t.Fatalf("ProcessMessage(%q) returned a malformed result: %+v", message, result)
	}
	return result
}

func TestProcessMessageRejectsInvalidInput(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "", "user-1", "hello", "sess-1"); err == nil {
		t.Error("empty conversation ID should be rejected")
	}
	if _, err := f.engine.ProcessMessage(ctx, "conv-1", "", "hello", "sess-1"); err == nil {
		t.Error("empty user ID should be rejected")
	}
	if _, err := f.engine.ProcessMessage(ctx, "conv-1", "user-1", "", "sess-1"); err == nil {
		t.Error("empty message should be rejected")
	}
}

func TestProcessMessageCrisis(t *testing.T) {
	f := newTestEngine(t)

	result := f.send(t, "I want to die")
	if !result.Safety.IsCrisis {
		t.Fatal("safety result should flag the crisis")
	}
	for _, number := range []string{"999", "116 123", "111"} {
		if !strings.Contains(result.Response.Text, number) {
			t.Errorf("crisis response missing %q: %q", number, result.Response.Text)
		}
	}
	if !result.EscalationTriggered {
		t.Error("crisis turn should trigger an escalation")
	}
	if len(f.escalation.notified) != 1 {
		t.Fatalf("NotifyTeam called %d times, want 1", len(f.escalation.notified))
	}
	if f.escalation.notified[0].Priority != models.EscalationPriorityHigh {
		t.Errorf("crisis event priority = %q, want high", f.escalation.notified[0].Priority)
	}
	if result.NewState == nil || result.NewState.LastCrisisAt.IsZero() {
		t.Fatal("crisis timestamp should be recorded on the new state")
	}

	// The vital-interests override leaves an auditable record.
	if len(f.gdpr.records) != 1 {
		t.Fatalf("consent records = %d, want 1 override record", len(f.gdpr.records))
	}
	if f.gdpr.records[0].LegalBasis != models.LegalBasisVitalInterests {
		t.Errorf("override legal basis = %q", f.gdpr.records[0].LegalBasis)
	}
}

func TestProcessMessageCrisisPreemptsSubflow(t *testing.T) {
	f := newTestEngine(t)
	f.gdpr.status = models.ConsentStatus{Granted: true}

	f.send(t, "speak to a nurse") // consent on record, subflow opens at the name step
	result := f.send(t, "i want to kill myself")
	if !result.Safety.IsCrisis {
		t.Fatal("crisis mid-subflow must still be classified")
	}
	if !strings.Contains(result.Response.Text, "999") {
		t.Errorf("crisis response must carry emergency numbers even mid-subflow: %q", result.Response.Text)
	}
}

func TestProcessMessageFullEscalationFlow(t *testing.T) {
	f := newTestEngine(t)

	result := f.send(t, "hello")
	if result.NewState == nil || !result.NewState.ConversationStarted {
		t.Fatal("greeting should start the conversation")
	}

	result = f.send(t, "speak to a nurse")
	if !result.EscalationTriggered {
		t.Error("nurse request should trigger the subflow")
	}
	if result.NewState.Subflow.Kind != models.SubflowEscalation {
		t.Fatalf("subflow kind = %q, want escalation", result.NewState.Subflow.Kind)
	}
	if result.NewState.Subflow.Escalation.Step != models.EscalationStepConsent {
		t.Fatalf("step = %q, want consent (no prior consent on record)", result.NewState.Subflow.Escalation.Step)
	}
	if result.NewState.CurrentStage != models.StageConsentCapture {
		t.Errorf("stage = %q, want consent_capture", result.NewState.CurrentStage)
	}

	result = f.send(t, "yes")
	if result.NewState.Subflow.Escalation.Step != models.EscalationStepName {
		t.Fatalf("step after consent = %q, want name", result.NewState.Subflow.Escalation.Step)
	}
	if len(f.gdpr.records) != 1 {
		t.Errorf("consent record count = %d, want 1", len(f.gdpr.records))
	}

	result = f.send(t, "my name is Sarah")
	if result.NewState.Subflow.Escalation.Step != models.EscalationStepContactMethod {
		t.Fatalf("step after name = %q", result.NewState.Subflow.Escalation.Step)
	}
	if result.NewState.CurrentStage != models.StageContactCollection {
		t.Errorf("stage = %q, want contact_collection", result.NewState.CurrentStage)
	}

	f.send(t, "1")
	result = f.send(t, "07123 456789")
	if result.NewState.Subflow.Escalation.Step != models.EscalationStepConfirmation {
		t.Fatalf("step after details = %q", result.NewState.Subflow.Escalation.Step)
	}
	if result.NewState.ContactInfo.Phone != "+447123456789" {
		t.Errorf("normalized phone = %q", result.NewState.ContactInfo.Phone)
	}

	result = f.send(t, "yes")
	if len(f.escalation.notified) != 1 {
		t.Fatalf("NotifyTeam called %d times over the whole flow, want exactly 1", len(f.escalation.notified))
	}
	if result.NewState.Subflow.Kind != models.SubflowNone {
		t.Errorf("subflow should be cleared after completion, got %q", result.NewState.Subflow.Kind)
	}
	if result.NewState.CurrentStage != models.StageInformationGathering {
		t.Errorf("stage after completion = %q, want info gathering", result.NewState.CurrentStage)
	}
	if !strings.Contains(result.Response.Text, "nursing team") {
		t.Errorf("completion copy = %q", result.Response.Text)
	}
}

func TestProcessMessageInformationQuestion(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")

	result := f.send(t, "what are the symptoms of flu?")
	if !strings.Contains(result.Response.Text, "Flu symptoms include") {
		t.Errorf("response should carry the content snippet: %q", result.Response.Text)
	}
	if result.NewState.CurrentTopic != "health-information" {
		t.Errorf("topic = %q, want health-information", result.NewState.CurrentTopic)
	}
	// Both turn messages are on the record.
	if got := len(result.NewState.History); got < 4 {
		t.Errorf("history length = %d, want at least 4", got)
	}
}

func TestProcessMessageContentFaultDegrades(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")
	f.content.err = errors.New("upstream 503")

	result := f.send(t, "what are the symptoms of flu?")
	if !strings.Contains(result.Response.Text, "111") {
		t.Errorf("content fault should degrade to the NHS 111 fallback: %q", result.Response.Text)
	}
}

func TestProcessMessageConsentLookupFault(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")
	f.gdpr.statusErr = errors.New("consent store unavailable")

	result := f.send(t, "speak to a nurse")
	if result.Response.Text != consentLookupFailedMessage {
		t.Errorf("response = %q, want consent lookup fallback", result.Response.Text)
	}
	if result.NewState.Subflow.Kind != models.SubflowNone {
		t.Error("a failed consent lookup must not open the subflow")
	}
	if len(f.escalation.notified) != 0 {
		t.Error("a failed consent lookup must not dispatch")
	}
}

// panicHandler blows up on Handle to exercise the engine's recovery path.
type panicHandler struct{}

func (h *panicHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:              "panic-topic",
		DisplayName:     "panic",
		SupportedStages: []models.Stage{models.StageInformationGathering},
		Priority:        99,
	}
}
func (h *panicHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	return 1.0
}
func (h *panicHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	panic("handler exploded")
}

func TestProcessMessageRecoversFromPanic(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")
	if err := f.engine.Registry().Register(&panicHandler{}); err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.ProcessMessage(context.Background(), "conv-1", "user-1", "anything", "sess-1")
	if err != nil {
		t.Fatalf("panic must not surface as an error: %v", err)
	}
	if result.Response.Text != genericFallbackMessage {
		t.Errorf("response = %q, want the generic fallback", result.Response.Text)
	}

	// The conversation is still usable afterwards.
	if _, err := f.engine.ProcessMessage(context.Background(), "conv-2", "user-1", "hello", "sess-1"); err != nil {
		t.Fatalf("engine unusable after recovered panic: %v", err)
	}
}

// erroringHandler fails cleanly to exercise the handler-fault fallback.
type erroringHandler struct{}

func (h *erroringHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:              "error-topic",
		DisplayName:     "error",
		SupportedStages: []models.Stage{models.StageInformationGathering},
		Priority:        99,
	}
}
func (h *erroringHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	return 1.0
}
func (h *erroringHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	return nil, errors.New("downstream broke")
}

func TestProcessMessageHandlerFaultFallback(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")
	if err := f.engine.Registry().Register(&erroringHandler{}); err != nil {
		t.Fatal(err)
	}

	result := f.send(t, "anything")
	if !strings.Contains(result.Response.Text, "How can I help") {
		t.Errorf("handler fault should fall back to a safe reply: %q", result.Response.Text)
	}
	if result.NewState == nil {
		t.Error("fallback turn should still commit")
	}
}

func TestProcessMessageConversationEnd(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")

	result := f.send(t, "goodbye")
	if !result.ConversationEnded {
		t.Errorf("goodbye should end the conversation, got %+v", result)
	}
}

func TestProcessMessageAfterGoodbye(t *testing.T) {
	f := newTestEngine(t)
	f.send(t, "hello")

	result := f.send(t, "goodbye")
	if !result.ConversationEnded {
		t.Fatal("goodbye should end the conversation")
	}
	if result.NewState.CurrentStage != models.StageClosing {
		t.Fatalf("stage after goodbye = %q, want closing", result.NewState.CurrentStage)
	}

	// The closed conversation still honors everything the menu offers.
	result = f.send(t, "what are the symptoms of flu?")
	if !strings.Contains(result.Response.Text, "Flu symptoms include") {
		t.Errorf("health question after goodbye should be answered: %q", result.Response.Text)
	}
	if result.NewState.CurrentStage != models.StageInformationGathering {
		t.Errorf("stage = %q, want information_gathering restored", result.NewState.CurrentStage)
	}

	f.send(t, "goodbye")
	result = f.send(t, "speak to a nurse")
	if !result.EscalationTriggered {
		t.Errorf("nurse request after goodbye should open the subflow: %q", result.Response.Text)
	}

	f.send(t, "cancel")
	f.send(t, "goodbye")
	result = f.send(t, "hello")
	if !strings.Contains(result.Response.Text, "Hello again") {
		t.Errorf("greeting after goodbye should re-greet: %q", result.Response.Text)
	}
}

func TestEscalationMetricCountsTerminalStepsOnly(t *testing.T) {
	f := newTestEngine(t)
	declineBase := promtestutil.ToFloat64(metrics.EscalationsCompleted.WithLabelValues("none"))
	completedBase := promtestutil.ToFloat64(metrics.EscalationsCompleted.WithLabelValues("completed"))

	f.send(t, "hello")
	f.send(t, "speak to a nurse")
	f.send(t, "no thanks")

	if got := promtestutil.ToFloat64(metrics.EscalationsCompleted.WithLabelValues("none")); got != declineBase {
		t.Errorf("decline counted as a completed escalation: counter moved %v -> %v", declineBase, got)
	}

	f.gdpr.status = models.ConsentStatus{Granted: true}
	f.send(t, "speak to a nurse")
	f.send(t, "my name is Sarah")
	f.send(t, "1")
	f.send(t, "07123 456789")
	f.send(t, "yes")

	if got := promtestutil.ToFloat64(metrics.EscalationsCompleted.WithLabelValues("completed")); got != completedBase+1 {
		t.Errorf("completed counter = %v, want %v", got, completedBase+1)
	}
}

func TestEngineHealth(t *testing.T) {
	f := newTestEngine(t)
	health := f.engine.Health()
	if !health.Initialized {
		t.Error("engine should report initialized")
	}
	if health.RegisteredTopicCount < 4 {
		t.Errorf("registered topics = %d, want at least the default 4", health.RegisteredTopicCount)
	}
	for _, svc := range []string{"content", "escalation", "gdpr"} {
		if health.PerServiceStatus[svc] != "healthy" {
			t.Errorf("service %s = %q, want healthy", svc, health.PerServiceStatus[svc])
		}
	}
}

func TestEngineRequiresStateManager(t *testing.T) {
	if _, err := NewEngine(EngineOptions{}); err == nil {
		t.Fatal("NewEngine without a state manager should fail")
	}
}
