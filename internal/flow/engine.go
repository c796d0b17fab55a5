// Package flow provides the conversation flow engine, the single entry point
// that composes the safety gate, selector, compliance gate, state manager and
// escalation subflow into one processMessage pipeline.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareBridge/CarePath/internal/metrics"
	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/safety"
)

// crisisResponse is returned whenever the safety gate flags a turn. It must
// always carry the emergency numbers, whatever the conversation was doing.
const crisisResponse = "It sounds like you're going through something really difficult right now, and I want to make sure you get help straight away.\n\n" +
	"If you are in immediate danger, please call 999 now.\n" +
	"You can talk to the Samaritans any time, free, on 116 123.\n" +
	"For urgent medical advice, call NHS 111.\n\n" +
	"I've let our nursing team know someone may need support. You don't have to go through this alone."

const genericFallbackMessage = "Sorry, something went wrong on my side. How can I help? " +
	"You can ask me a health question or say \"speak to a nurse\"."

const consentLookupFailedMessage = "I'm having trouble checking your details right now, so I can't arrange a callback. " +
	"Please call NHS 111 for advice, or try again in a few minutes."

// EngineOptions configures the flow engine. StateManager, SafetyGate and the
// three collaborators are injected explicitly; there is no ambient state.
type EngineOptions struct {
	StateManager        *StateManager
	SafetyGate          *safety.Gate
	Content             ContentService
	Escalation          EscalationService
	GDPR                GDPRService
	ConsentAbsentPolicy models.ConsentAbsentPolicy
	EscalationTimeout   time.Duration
	ConfidenceFloor     float64
}

// Engine is the conversation flow engine. One instance serves all
// conversations; per-conversation ordering is enforced by the state manager's
// turn locks.
type Engine struct {
	stateManager *StateManager
	safetyGate   *safety.Gate
	registry     *Registry
	gate         *ComplianceGate
	subflow      *EscalationSubflow
	content      ContentService
	escalation   EscalationService
	gdpr         GDPRService
	initialized  bool
}

// NewEngine builds an engine with the default handler set registered:
// conversation-start, health-information, nurse-escalation,
// conversation-end, and the reserved unclear-intent fallback.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.StateManager == nil {
		return nil, fmt.Errorf("state manager is required")
	}
	if opts.SafetyGate == nil {
		opts.SafetyGate = safety.NewGate()
	}
	if opts.ConsentAbsentPolicy == "" {
		opts.ConsentAbsentPolicy = models.ConsentAbsentCapture
	}

	gate := NewComplianceGateWithPolicy(opts.GDPR, opts.ConsentAbsentPolicy, DefaultRecentCrisisWindow)
	subflow := NewEscalationSubflowWithTimeout(opts.Escalation, gate, opts.EscalationTimeout)
	registry := NewRegistry()
	if opts.ConfidenceFloor > 0 {
		registry.SetConfidenceFloor(opts.ConfidenceFloor)
	}

	e := &Engine{
		stateManager: opts.StateManager,
		safetyGate:   opts.SafetyGate,
		registry:     registry,
		gate:         gate,
		subflow:      subflow,
		content:      opts.Content,
		escalation:   opts.Escalation,
		gdpr:         opts.GDPR,
	}

	for _, h := range []TopicHandler{
		NewStartHandler(),
		NewInformationHandler(),
		NewEscalationHandler(subflow),
		NewEndHandler(),
	} {
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("failed to register handler: %w", err)
		}
	}
	registry.SetUnclearHandler(NewUnclearHandler())
	opts.StateManager.SetDescriptorSource(registry)

	e.initialized = true
	slog.Info("flow.NewEngine: engine initialized", "handlers", registry.Count())
	return e, nil
}

// Registry exposes the handler registry, mainly for registering additional
// topic handlers before serving traffic.
func (e *Engine) Registry() *Registry { return e.registry }

// ProcessMessage routes one inbound message through the pipeline. The safety
// gate runs first on every turn, unconditionally; nothing can bypass it. The
// returned result is always well formed - internal faults degrade to a safe
// fallback response rather than propagating.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, userID, message, sessionID string) (result *models.ProcessResult, err error) {
	inbound := models.InboundMessage{ConversationID: conversationID, UserID: userID, SessionID: sessionID, Body: message, ReceivedAt: time.Now()}
	if verr := inbound.Validate(); verr != nil {
		slog.Warn("Engine.ProcessMessage: invalid inbound message", "error", verr, "conversationID", conversationID)
		return nil, verr
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.ProcessMessage: recovered from panic", "panic", r, "conversationID", conversationID)
			metrics.MessagesProcessed.WithLabelValues("panic").Inc()
			result = &models.ProcessResult{Response: models.ResponseContent{Text: genericFallbackMessage}}
			err = nil
		}
	}()

	// Serialize turns per conversation: turn N+1 starts only after turn N's
	// commit is visible.
	unlock := e.stateManager.BeginTurn(conversationID)
	defer unlock()

	state, err := e.stateManager.GetOrCreate(ctx, conversationID, userID, sessionID)
	if err != nil {
		slog.Error("Engine.ProcessMessage: failed to load state", "error", err, "conversationID", conversationID)
		metrics.MessagesProcessed.WithLabelValues("state_error").Inc()
		return &models.ProcessResult{Response: models.ResponseContent{Text: genericFallbackMessage}}, nil
	}

	// Safety gate: always first, never bypassed by conversation state,
	// consent rules or handler selection.
	gateStart := time.Now()
	safetyResult := e.safetyGate.Classify(message)
	metrics.SafetyGateLatency.Observe(time.Since(gateStart).Seconds())

	if safetyResult.IsCrisis {
		metrics.CrisesDetected.WithLabelValues(string(safetyResult.Severity)).Inc()
		return e.handleCrisis(ctx, message, state, safetyResult)
	}

	// Active subflow turns go straight to the nested machine; its timeout
	// check runs before message content.
	if state.Subflow.Kind == models.SubflowEscalation && state.Subflow.Escalation != nil && state.Subflow.Escalation.IsActive {
		return e.handleSubflowTurn(ctx, message, state, safetyResult)
	}

	return e.handleSelectedTurn(ctx, message, state, safetyResult)
}

// handleCrisis short-circuits the turn with the crisis response and seeds a
// high-priority escalation event under the vital-interests legal basis.
func (e *Engine) handleCrisis(ctx context.Context, message string, state *models.ConversationState, safetyResult models.SafetyResult) (*models.ProcessResult, error) {
	slog.Warn("Engine.handleCrisis: crisis detected", "conversationID", state.ConversationID, "label", safetyResult.MatchedLabel, "severity", safetyResult.Severity)

	escalationTriggered := false
	if e.escalation != nil {
		if err := e.gate.RecordOverride(ctx, state.UserID, models.ConsentTypeEscalationContact); err != nil {
			slog.Error("Engine.handleCrisis: failed to record vital-interests override", "error", err, "userID", state.UserID)
		}
		event, err := e.escalation.CreateEvent(ctx, state.UserID, state.SessionID, message, safetyResult)
		if err == nil {
			event.TriggerType = models.TriggerCrisis
			event.Priority = models.EscalationPriorityHigh
			err = e.escalation.NotifyTeam(ctx, event)
		}
		if err != nil {
			// The team alert is best-effort: the crisis response with the
			// emergency numbers still goes out either way.
			slog.Error("Engine.handleCrisis: failed to notify team", "error", err, "conversationID", state.ConversationID)
			metrics.ExternalServiceFaults.WithLabelValues("escalation").Inc()
		} else {
			escalationTriggered = true
		}
	}

	patch := models.StatePatch{
		ConversationStarted: models.BoolPtr(true),
		LastCrisisAt:        models.TimePtr(time.Now()),
	}
	response := models.ResponseContent{
		Text:             crisisResponse,
		SuggestedActions: []string{"Call 999", "Call Samaritans on 116 123", "Speak to a nurse"},
	}

	newState := e.commit(ctx, state.ConversationID, patch, message, response.Text)
	metrics.MessagesProcessed.WithLabelValues("crisis").Inc()
	return &models.ProcessResult{
		Response:            response,
		NewState:            newState,
		Safety:              safetyResult,
		EscalationTriggered: escalationTriggered,
	}, nil
}

// handleSubflowTurn advances the active escalation subflow one step and
// folds its outcome into a single atomic commit.
func (e *Engine) handleSubflowTurn(ctx context.Context, message string, state *models.ConversationState, safetyResult models.SafetyResult) (*models.ProcessResult, error) {
	outcome, err := e.subflow.Advance(ctx, message, state)
	if err != nil {
		slog.Error("Engine.handleSubflowTurn: subflow fault", "error", err, "conversationID", state.ConversationID)
		metrics.MessagesProcessed.WithLabelValues("subflow_error").Inc()
		newState := e.commit(ctx, state.ConversationID, models.StatePatch{
			Subflow: &models.SubflowContext{Kind: models.SubflowNone},
		}, message, genericFallbackMessage)
		return &models.ProcessResult{
			Response: models.ResponseContent{Text: genericFallbackMessage},
			NewState: newState,
			Safety:   safetyResult,
		}, nil
	}

	patch := models.StatePatch{}
	if outcome.Ended {
		patch.Subflow = &models.SubflowContext{Kind: models.SubflowNone}
		patch.CurrentStage = models.StagePtr(models.StageInformationGathering)
		// Consent declines and dispatch failures end the subflow without
		// reaching a terminal step; only terminal steps count here.
		if outcome.Escalation.Step.IsTerminal() {
			metrics.EscalationsCompleted.WithLabelValues(string(outcome.Escalation.Step)).Inc()
		}
	} else {
		esc := outcome.Escalation
		patch.Subflow = &models.SubflowContext{Kind: models.SubflowEscalation, Escalation: &esc}
		patch.CurrentStage = models.StagePtr(stageForStep(esc.Step))
	}
	if outcome.ClearContact {
		patch.ContactInfo = &models.ContactInfo{}
	} else if outcome.Contact != nil {
		patch.ContactInfo = outcome.Contact
	}

	newState := e.commit(ctx, state.ConversationID, patch, message, outcome.Response.Text)
	metrics.MessagesProcessed.WithLabelValues("ok").Inc()
	return &models.ProcessResult{
		Response: outcome.Response,
		NewState: newState,
		Safety:   safetyResult,
	}, nil
}

// handleSelectedTurn runs selection, the compliance gate and the chosen
// handler for a normal turn.
func (e *Engine) handleSelectedTurn(ctx context.Context, message string, state *models.ConversationState, safetyResult models.SafetyResult) (*models.ProcessResult, error) {
	handler, confidence := e.registry.Select(message, state)
	if handler == nil {
		slog.Error("Engine.handleSelectedTurn: no handler available", "conversationID", state.ConversationID)
		metrics.MessagesProcessed.WithLabelValues("no_handler").Inc()
		newState := e.commit(ctx, state.ConversationID, models.StatePatch{}, message, genericFallbackMessage)
		return &models.ProcessResult{
			Response: models.ResponseContent{Text: genericFallbackMessage},
			NewState: newState,
			Safety:   safetyResult,
		}, nil
	}
	desc := handler.Descriptor()
	slog.Debug("Engine.handleSelectedTurn: handler selected", "conversationID", state.ConversationID, "handler", desc.ID, "confidence", confidence)

	hctx := &HandlerContext{
		Content:    e.content,
		Escalation: e.escalation,
		GDPR:       e.gdpr,
		Subflow:    e.subflow,
		Safety:     safetyResult,
	}

	if desc.RequiresConsent {
		decision, err := e.gate.Check(ctx, state.UserID, models.ConsentTypeEscalationContact, safetyResult, state)
		if err != nil {
			metrics.ExternalServiceFaults.WithLabelValues("gdpr").Inc()
			metrics.MessagesProcessed.WithLabelValues("consent_error").Inc()
			newState := e.commit(ctx, state.ConversationID, models.StatePatch{}, message, consentLookupFailedMessage)
			return &models.ProcessResult{
				Response: models.ResponseContent{Text: consentLookupFailedMessage, SuggestedActions: []string{"Try again", "Ask a health question"}},
				NewState: newState,
				Safety:   safetyResult,
			}, nil
		}
		hctx.Decision = decision
	}

	result, err := handler.Handle(ctx, message, state, hctx)
	if err != nil {
		slog.Error("Engine.handleSelectedTurn: handler fault", "error", err, "handler", desc.ID, "conversationID", state.ConversationID)
		metrics.MessagesProcessed.WithLabelValues("handler_error").Inc()
		fallback := "How can I help? You can ask me a health question or say \"speak to a nurse\"."
		newState := e.commit(ctx, state.ConversationID, models.StatePatch{}, message, fallback)
		return &models.ProcessResult{
			Response: models.ResponseContent{Text: fallback, SuggestedActions: []string{"Ask a health question", "Speak to a nurse"}},
			NewState: newState,
			Safety:   safetyResult,
		}, nil
	}

	// First contact marks the conversation started even when a non-start
	// handler claimed the turn.
	if !state.ConversationStarted && result.Patch.ConversationStarted == nil {
		result.Patch.ConversationStarted = models.BoolPtr(true)
	}

	newState := e.commit(ctx, state.ConversationID, result.Patch, message, result.Response.Text)
	metrics.MessagesProcessed.WithLabelValues("ok").Inc()
	return &models.ProcessResult{
		Response:            result.Response,
		NewState:            newState,
		Safety:              safetyResult,
		EscalationTriggered: result.EscalationTriggered,
		ConversationEnded:   result.ConversationEnded,
	}, nil
}

// commit applies the turn's patch and both messages in one atomic step.
// Commit failures are logged but do not fail the turn: the user still gets
// their response.
func (e *Engine) commit(ctx context.Context, conversationID string, patch models.StatePatch, userMessage, assistantMessage string) *models.ConversationState {
	now := time.Now()
	newState, err := e.stateManager.Commit(ctx, conversationID, patch,
		models.ConversationMessage{Role: "user", Content: userMessage, Timestamp: now},
		models.ConversationMessage{Role: "assistant", Content: assistantMessage, Timestamp: now},
	)
	if err != nil {
		slog.Error("Engine.commit: state commit failed", "error", err, "conversationID", conversationID)
		return nil
	}
	return newState
}

// Health reports the operational surface for the engine.
func (e *Engine) Health() models.HealthStatus {
	status := map[string]string{
		"content":    serviceStatus(e.content != nil),
		"escalation": serviceStatus(e.escalation != nil),
		"gdpr":       serviceStatus(e.gdpr != nil),
	}
	return models.HealthStatus{
		Initialized:          e.initialized,
		RegisteredTopicCount: e.registry.Count(),
		PerServiceStatus:     status,
	}
}

func serviceStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "error"
}

// stageForStep maps an escalation step to the conversation stage shown while
// the subflow is active.
func stageForStep(step models.EscalationStep) models.Stage {
	switch step {
	case models.EscalationStepConsent:
		return models.StageConsentCapture
	case models.EscalationStepName, models.EscalationStepContactMethod,
		models.EscalationStepContactDetails, models.EscalationStepConfirmation:
		return models.StageContactCollection
	default:
		return models.StageInformationGathering
	}
}
