// Package flow implements the conversation orchestration engine for CarePath:
// the safety gate wiring, topic handler selection, per-conversation state
// management, the consent-gated escalation subflow and the compliance gate
// that arbitrates between them.
package flow

import (
	"context"

	"github.com/CareBridge/CarePath/internal/models"
)

// ContentService provides ranked informational snippets for non-crisis queries.
// Implementations live outside the core; the engine treats it as a stateless,
// idempotent-request collaborator.
type ContentService interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// EscalationService hands completed callback requests and crisis events to a
// human team. NotifyTeam is called at most once per subflow completion; bounded
// retry, if any, belongs to the implementation, not the engine.
type EscalationService interface {
	CreateEvent(ctx context.Context, userID, sessionID, message string, safety models.SafetyResult) (*models.EscalationEvent, error)
	NotifyTeam(ctx context.Context, event *models.EscalationEvent) error
}

// GDPRService answers consent lookups and persists consent records.
type GDPRService interface {
	GetConsentStatus(ctx context.Context, userID string, consentType models.ConsentType) (models.ConsentStatus, error)
	RecordConsent(ctx context.Context, record models.ConsentRecord) error
}

// TopicHandler is a pluggable unit that can produce a response for a class of
// user intents within specific conversation stages. Handlers are pure: they
// never mutate the state they receive and request all changes through the
// returned patch.
type TopicHandler interface {
	// Descriptor returns the handler's immutable registration metadata.
	Descriptor() models.TopicHandlerDescriptor

	// MatchConfidence reports the handler's [0,1] estimate that it should
	// handle the message given the current state.
	MatchConfidence(message string, state *models.ConversationState) float64

	// Handle produces the response for the message. The state argument is a
	// read-only snapshot; mutations go through HandlerResult.Patch.
	Handle(ctx context.Context, message string, state *models.ConversationState, hctx *HandlerContext) (*HandlerResult, error)
}

// HandlerContext carries the collaborators a handler may use. It is passed
// explicitly into every handler call; there is no ambient global state.
type HandlerContext struct {
	Content    ContentService
	Escalation EscalationService
	GDPR       GDPRService
	Subflow    *EscalationSubflow
	Safety     models.SafetyResult
	// Decision is the compliance gate's verdict for this turn. Only set for
	// handlers whose descriptors require consent.
	Decision ComplianceDecision
}

// HandlerResult is what a handler returns for one turn.
type HandlerResult struct {
	Response            models.ResponseContent
	Patch               models.StatePatch
	EscalationTriggered bool
	ConversationEnded   bool
}
