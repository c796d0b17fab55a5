// Package flow provides the conversation-end handler.
package flow

import (
	"context"
	"log/slog"

	"github.com/CareBridge/CarePath/internal/models"
)

var goodbyePhrases = []string{"bye", "goodbye", "bye bye", "that's all", "thats all", "no more questions", "all done", "i'm done", "im done"}

// EndHandler closes the conversation on an explicit goodbye.
type EndHandler struct{}

// NewEndHandler creates the conversation-end handler.
func NewEndHandler() *EndHandler { return &EndHandler{} }

func (h *EndHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:              "conversation-end",
		DisplayName:     "Goodbye",
		Description:     "Ends the conversation on request",
		Keywords:        goodbyePhrases,
		SupportedStages: []models.Stage{models.StageInformationGathering, models.StageClosing},
		Priority:        6,
	}
}

func (h *EndHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	if matchesPhrase(message, goodbyePhrases) {
		return 0.9
	}
	return 0
}

func (h *EndHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	slog.Debug("EndHandler.Handle: ending conversation", "conversationID", state.ConversationID)
	return &HandlerResult{
		Response: models.ResponseContent{
			Text: "Thanks for chatting. Take care, and remember you can call NHS 111 any time for advice, or 999 in an emergency.",
		},
		Patch: models.StatePatch{
			CurrentTopic: models.StringPtr("conversation-end"),
			CurrentStage: models.StagePtr(models.StageClosing),
		},
		ConversationEnded: true,
	}, nil
}
