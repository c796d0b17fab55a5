// Package flow provides the reserved unclear-intent fallback handler.
package flow

import (
	"context"
	"log/slog"

	"github.com/CareBridge/CarePath/internal/models"
)

const unclearIntentMessage = "I'm not sure I understood that. Here's what I can do:\n" +
	"1. Answer general health questions\n" +
	"2. Arrange a callback from a nurse\n" +
	"3. End the conversation\n" +
	"What would you like?"

// UnclearHandler is the reserved fallback for turns where no handler is
// confident. It presents a menu of options rather than guessing. It is never
// selected by confidence; the selector routes to it below the floor.
type UnclearHandler struct{}

// NewUnclearHandler creates the unclear-intent handler.
func NewUnclearHandler() *UnclearHandler { return &UnclearHandler{} }

func (h *UnclearHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:          "unclear-intent",
		DisplayName: "Options",
		Description: "Presents a menu when intent is unclear",
		SupportedStages: []models.Stage{
			models.StageInformationGathering, models.StageConsentCapture,
			models.StageContactCollection, models.StageClosing,
		},
	}
}

func (h *UnclearHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	// Reserved fallback: never competes on confidence.
	return 0
}

func (h *UnclearHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	slog.Debug("UnclearHandler.Handle: presenting options menu", "conversationID", state.ConversationID)
	return &HandlerResult{
		Response: models.ResponseContent{
			Text:             unclearIntentMessage,
			SuggestedActions: []string{"Ask a health question", "Speak to a nurse", "End conversation"},
		},
	}, nil
}
