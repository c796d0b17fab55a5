// Package flow provides the conversation-start handler.
package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/CareBridge/CarePath/internal/models"
)

const openingStatement = "Hello! I'm CarePath, a health information assistant. " +
	"I can give you general health information, but I'm not a doctor and nothing I say is a diagnosis. " +
	"If this is an emergency, call 999 now.\n\n" +
	"You can ask me a health question, or say \"speak to a nurse\" if you'd like a callback from our nursing team."

var greetingKeywords = []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening", "start"}

// StartHandler is the designated conversation-start handler. It may claim any
// stage while the conversation has not started, and presents the opening
// statement exactly once.
type StartHandler struct{}

// NewStartHandler creates the start handler.
func NewStartHandler() *StartHandler { return &StartHandler{} }

func (h *StartHandler) Descriptor() models.TopicHandlerDescriptor {
	return models.TopicHandlerDescriptor{
		ID:                "conversation-start",
		DisplayName:       "Welcome",
		Description:       "Greets first contact and presents the opening statement",
		Keywords:          greetingKeywords,
		SupportedStages:   []models.Stage{models.StageInformationGathering, models.StageClosing},
		Priority:          10,
		ConversationStart: true,
	}
}

func (h *StartHandler) MatchConfidence(message string, state *models.ConversationState) float64 {
	if !state.ConversationStarted {
		// First contact belongs to the start handler regardless of content;
		// a greeting just raises the score further.
		if matchesPhrase(message, greetingKeywords) || containsAnyKeyword(message, greetingKeywords) {
			return 0.95
		}
		return 0.5
	}
	if matchesPhrase(message, greetingKeywords) {
		return 0.4
	}
	return 0
}

func (h *StartHandler) Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error) {
	slog.Debug("StartHandler.Handle: greeting turn", "conversationID", state.ConversationID, "seenOpening", state.HasSeenOpeningStatement)

	text := openingStatement
	if state.HasSeenOpeningStatement {
		text = "Hello again! What can I help you with?"
	}

	return &HandlerResult{
		Response: models.ResponseContent{
			Text:             text,
			SuggestedActions: []string{"Ask a health question", "Speak to a nurse"},
		},
		Patch: models.StatePatch{
			CurrentTopic:            models.StringPtr("conversation-start"),
			CurrentStage:            models.StagePtr(models.StageInformationGathering),
			ConversationStarted:     models.BoolPtr(true),
			HasSeenOpeningStatement: models.BoolPtr(true),
		},
	}, nil
}

// containsAnyKeyword reports whether any keyword occurs in the message.
func containsAnyKeyword(message string, keywords []string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
