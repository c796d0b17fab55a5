// Package flow provides the nurse-escalation handler, the entry point into
// the escalation subflow.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CareBridge/CarePath/internal/models"
)

const escalationBlockedMessage = "I'm sorry - I can't arrange a callback without your consent to store contact details. " +
	"You can still ask me health questions here, or call NHS 111 for advice."

const escalationDegradedMessage = "I can't book a callback without storing your contact details, but there's an alternative: " +
	"you can call NHS 111 yourself any time, free of charge, and a trained adviser will help you. " +
	"Or keep asking me questions here - nothing you tell me is stored."

// EscalationHandler detects explicit requests for human support and starts
// the escalation subflow. Once the subflow is active the engine routes
// messages to it directly; this handler only handles entry.
type EscalationHandler struct {
	subflow *EscalationSubflow
}

// NewEscalationHandler creates the nurse-escalation handler.
func NewEscalationHandler(subflow *EscalationSubflow) *EscalationHandler {
	return &EscalationHandler{subflow: subflow}
}

func (h *EscalationHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:          "nurse-escalation",
		DisplayName: "Speak to a nurse",
		Description: "Arranges a callback from the nursing team",
		Keywords:    []string{"nurse", "human", "person", "callback", "call back", "phone me"},
		IntentRules: []models.IntentRule{
			{Pattern: "speak to a nurse", Confidence: 0.95, Label: "nurse-request"},
			{Pattern: "talk to a nurse", Confidence: 0.95, Label: "nurse-request"},
			{Pattern: "speak to someone", Confidence: 0.85, Label: "human-request"},
			{Pattern: "talk to someone", Confidence: 0.85, Label: "human-request"},
			{Pattern: "speak to a human", Confidence: 0.9, Label: "human-request"},
			{Pattern: "real person", Confidence: 0.85, Label: "human-request"},
			{Pattern: "call me", Confidence: 0.75, Label: "callback-request"},
			{Pattern: "call back", Confidence: 0.75, Label: "callback-request"},
			{Pattern: "callback", Confidence: 0.75, Label: "callback-request"},
		},
		SupportedStages: []models.Stage{models.StageInformationGathering, models.StageConsentCapture, models.StageContactCollection, models.StageClosing},
		RequiresConsent: true,
		CanEscalate:     true,
		Priority:        8,
	}
}

func (h *EscalationHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	return ScoreMessage(message, h.Descriptor())
}

// Handle starts the subflow according to the compliance decision for this
// turn. Consent on record (or the vital-interests override) skips straight to
// the name step; absent consent enters the consent step per policy.
func (h *EscalationHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	slog.Debug("EscalationHandler.Handle: escalation requested", "conversationID", state.ConversationID, "decision", hctx.Decision)

	switch hctx.Decision {
	case DecisionBlock:
		return &HandlerResult{
			Response: models.ResponseContent{Text: escalationBlockedMessage, SuggestedActions: []string{"Ask a health question"}},
			Patch:    models.StatePatch{CurrentTopic: models.StringPtr("nurse-escalation")},
		}, nil

	case DecisionDegraded:
		return &HandlerResult{
			Response: models.ResponseContent{Text: escalationDegradedMessage, SuggestedActions: []string{"Ask a health question"}},
			Patch:    models.StatePatch{CurrentTopic: models.StringPtr("nurse-escalation")},
		}, nil

	case DecisionAllow, DecisionVitalInterests:
		trigger := models.TriggerUserRequest
		if hctx.Decision == DecisionVitalInterests {
			trigger = models.TriggerCrisis
		}
		esc := h.subflow.StartWithConsent(trigger, message)
		return &HandlerResult{
			Response: models.ResponseContent{Text: namePrompt},
			Patch: models.StatePatch{
				CurrentTopic: models.StringPtr("nurse-escalation"),
				CurrentStage: models.StagePtr(models.StageContactCollection),
				Subflow:      &models.SubflowContext{Kind: models.SubflowEscalation, Escalation: &esc},
			},
			EscalationTriggered: true,
		}, nil

	case DecisionRenewConsent:
		esc := h.subflow.Start(models.TriggerUserRequest, message)
		return &HandlerResult{
			Response: models.ResponseContent{Text: h.subflow.ConsentRenewalPrompt(), SuggestedActions: []string{"Yes", "No"}},
			Patch: models.StatePatch{
				CurrentTopic: models.StringPtr("nurse-escalation"),
				CurrentStage: models.StagePtr(models.StageConsentCapture),
				Subflow:      &models.SubflowContext{Kind: models.SubflowEscalation, Escalation: &esc},
			},
			EscalationTriggered: true,
		}, nil

	case DecisionCaptureConsent:
		esc := h.subflow.Start(models.TriggerUserRequest, message)
		return &HandlerResult{
			Response: models.ResponseContent{Text: h.subflow.ConsentPrompt(), SuggestedActions: []string{"Yes", "No"}},
			Patch: models.StatePatch{
				CurrentTopic: models.StringPtr("nurse-escalation"),
				CurrentStage: models.StagePtr(models.StageConsentCapture),
				Subflow:      &models.SubflowContext{Kind: models.SubflowEscalation, Escalation: &esc},
			},
			EscalationTriggered: true,
		}, nil

	default:
		return nil, fmt.Errorf("unexpected compliance decision %q", hctx.Decision)
	}
}
