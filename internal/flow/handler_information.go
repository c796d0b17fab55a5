// Package flow provides the health-information handler.
package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/CareBridge/CarePath/internal/metrics"
	"github.com/CareBridge/CarePath/internal/models"
)

const contentUnavailableMessage = "I'm sorry - I can't look that up right now. " +
	"For medical advice you can call NHS 111 any time, or try asking me again in a few minutes."

// InformationHandler answers general health questions through the content
// collaborator. It collects no personal data and requires no consent.
type InformationHandler struct{}

// NewInformationHandler creates the information handler.
func NewInformationHandler() *InformationHandler { return &InformationHandler{} }

func (h *InformationHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:          "health-information",
		DisplayName: "Health information",
		Description: "Answers general health questions from the content service",
		Keywords: []string{
			"symptom", "symptoms", "treatment", "medication", "medicine", "pain",
			"cold", "flu", "fever", "headache", "rash", "cough", "diabetes",
			"asthma", "blood pressure", "pregnancy", "vaccine", "infection", "allergy",
		},
		IntentRules: []models.IntentRule{
			{Pattern: "what is", Confidence: 0.6, Label: "definition"},
			{Pattern: "what are", Confidence: 0.6, Label: "definition"},
			{Pattern: "how do i", Confidence: 0.6, Label: "how-to"},
			{Pattern: "how can i", Confidence: 0.6, Label: "how-to"},
			{Pattern: "should i", Confidence: 0.55, Label: "guidance"},
			{Pattern: "is it normal", Confidence: 0.6, Label: "guidance"},
			{Pattern: "tell me about", Confidence: 0.6, Label: "definition"},
		},
		SupportedStages: []models.Stage{models.StageInformationGathering, models.StageClosing},
		Priority:        5,
	}
}

func (h *InformationHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	score := ScoreMessage(message, h.Descriptor())
	// A question mark is a reasonable signal on its own in this stage.
	if strings.Contains(message, "?") && score < 0.45 {
		score = 0.45
	}
	return score
}

func (h *InformationHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	slog.Debug("InformationHandler.Handle: searching content", "conversationID", state.ConversationID)

	if hctx.Content == nil {
		slog.Warn("InformationHandler.Handle: content service not configured")
		return h.unavailableResult(), nil
	}

	snippets, err := hctx.Content.Search(ctx, message)
	if err != nil {
		slog.Error("InformationHandler.Handle: content search failed", "error", err, "conversationID", state.ConversationID)
		metrics.ExternalServiceFaults.WithLabelValues("content").Inc()
		return h.unavailableResult(), nil
	}
	if len(snippets) == 0 {
		return &HandlerResult{
			Response: models.ResponseContent{
				Text:             "I couldn't find anything on that, sorry. Could you try rephrasing, or would you like to speak to a nurse?",
				SuggestedActions: []string{"Rephrase my question", "Speak to a nurse"},
			},
			Patch: h.topicPatch(),
		}, nil
	}

	text := strings.Join(snippets, "\n\n") +
		"\n\nThis is general information, not a diagnosis. Is there anything else I can help with?"
	return &HandlerResult{
		Response: models.ResponseContent{
			Text:             text,
			SuggestedActions: []string{"Ask another question", "Speak to a nurse"},
		},
		Patch: h.topicPatch(),
	}, nil
}

func (h *InformationHandler) unavailableResult() *HandlerResult {
	return &HandlerResult{
		Response: models.ResponseContent{
			Text:             contentUnavailableMessage,
			SuggestedActions: []string{"Try again", "Speak to a nurse"},
		},
		Patch: h.topicPatch(),
	}
}

func (h *InformationHandler) topicPatch() models.StatePatch {
	return models.StatePatch{
		CurrentTopic: models.StringPtr("health-information"),
		CurrentStage: models.StagePtr(models.StageInformationGathering),
	}
}
