// Package flow provides the escalation subflow: the nested state machine
// that captures consent, name and contact details for a human callback and
// hands off to the notification collaborator.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CareBridge/CarePath/internal/models"
)

// DefaultEscalationTimeout is the absolute ceiling on an escalation subflow.
// It is evaluated before the content of any incoming message while the
// subflow is active.
const DefaultEscalationTimeout = 15 * time.Minute

// User-facing copy for the subflow steps.
const (
	consentPrompt = "I can arrange for a nurse from our team to call you back. " +
		"To do that I need to collect your name and contact details, which will only be used to arrange the callback. " +
		"Is that OK? (yes / no)"
	consentRenewalPrompt = "It's been a while since you last agreed to us holding your contact details, so I need to ask again. " +
		"May we collect your name and contact details to arrange a nurse callback? (yes / no)"
	consentDeclinedMessage = "That's fine - I won't store any of your details. " +
		"You can still ask me health questions here, or call NHS 111 any time for advice."
	namePrompt          = "Great. Can I take your first name?"
	contactMethodPrompt = "Thanks %s. How would you like the nurse to contact you?\n1. Phone\n2. Email\n(Reply with '1', '2', 'phone' or 'email')"
	phoneDetailsPrompt  = "What's the best phone number to reach you on? UK numbers only, e.g. 07123 456789."
	emailDetailsPrompt  = "What email address should the nurse use?"
	confirmationPrompt  = "Just to confirm - Name: %s, %s: %s.\nShall I send this to the nursing team? (yes to confirm, or 'change' to edit)"
	cancelledMessage    = "No problem - I've cancelled the callback request and discarded the details you gave me. Is there anything else I can help with?"
	timeoutMessage      = "That callback request has timed out, so I've discarded the details you gave me. " +
		"If you'd still like to speak to a nurse, just say \"speak to a nurse\" and we can start again."
	dispatchFailedMessage = "I'm sorry - I couldn't reach our nursing team just now, so your callback hasn't been booked. " +
		"Please call NHS 111 for advice, or try asking me again in a few minutes."
	timeoutWarningSuffix = "\n\n(Just so you know, this request will expire soon if we don't finish it.)"
)

// slaCopy maps informational priority to the SLA text shown on completion.
// Priority never affects transitions.
var slaCopy = map[models.EscalationPriority]string{
	models.EscalationPriorityHigh:   "A nurse will call you within the hour.",
	models.EscalationPriorityMedium: "A nurse will contact you within 4 hours.",
	models.EscalationPriorityLow:    "A nurse will contact you within 24 hours, usually sooner.",
}

// highUrgencyKeywords and mediumUrgencyKeywords drive the informational
// priority heuristic on the triggering message.
var highUrgencyKeywords = []string{"urgent", "emergency", "severe", "right now", "chest pain", "can't breathe", "cant breathe", "bleeding", "collapsed"}
var mediumUrgencyKeywords = []string{"today", "soon", "pain", "worried", "getting worse", "scared"}

// SubflowOutcome is the result of advancing the escalation subflow one turn.
type SubflowOutcome struct {
	Response models.ResponseContent
	// Escalation is the updated subflow state. When Ended is true the engine
	// discards it from the conversation's subflow context.
	Escalation models.EscalationState
	// Contact carries the contact info captured so far; nil means unchanged.
	Contact *models.ContactInfo
	// ClearContact requests erasure of previously captured contact info.
	ClearContact bool
	// ConsentRecorded is set when the consent step produced a record.
	ConsentRecorded bool
	// Dispatched is set when NotifyTeam was called and succeeded.
	Dispatched bool
	// Ended is set when the subflow reached a terminal step or aborted.
	Ended bool
}

// EscalationSubflow drives the callback-capture state machine. It holds no
// per-conversation state itself; everything lives in the EscalationState
// embedded in the conversation.
type EscalationSubflow struct {
	escalation EscalationService
	gate       *ComplianceGate
	timeout    time.Duration
}

// NewEscalationSubflow creates a subflow with the default timeout ceiling.
func NewEscalationSubflow(escalation EscalationService, gate *ComplianceGate) *EscalationSubflow {
	return NewEscalationSubflowWithTimeout(escalation, gate, DefaultEscalationTimeout)
}

// NewEscalationSubflowWithTimeout creates a subflow with an explicit ceiling.
func NewEscalationSubflowWithTimeout(escalation EscalationService, gate *ComplianceGate, timeout time.Duration) *EscalationSubflow {
	slog.Debug("flow.NewEscalationSubflowWithTimeout: creating escalation subflow", "timeout", timeout)
	if timeout <= 0 {
		timeout = DefaultEscalationTimeout
	}
	return &EscalationSubflow{escalation: escalation, gate: gate, timeout: timeout}
}

// Start creates a fresh subflow state at the consent step. The triggering
// message drives the informational priority heuristic only.
func (sf *EscalationSubflow) Start(trigger models.EscalationTrigger, triggerMessage string) models.EscalationState {
	state := models.EscalationState{
		IsActive:    true,
		Step:        models.EscalationStepConsent,
		TriggerType: trigger,
		Priority:    DerivePriority(triggerMessage),
		StartTime:   time.Now(),
	}
	slog.Info("EscalationSubflow.Start: subflow started", "trigger", trigger, "priority", state.Priority)
	return state
}

// StartWithConsent creates a subflow state that skips the consent step,
// used when consent is already on record or the vital-interests override
// applies. Crisis-seeded subflows are always high priority.
func (sf *EscalationSubflow) StartWithConsent(trigger models.EscalationTrigger, triggerMessage string) models.EscalationState {
	state := sf.Start(trigger, triggerMessage)
	state.Step = models.EscalationStepName
	state.ConsentGiven = true
	if trigger == models.TriggerCrisis {
		state.Priority = models.EscalationPriorityHigh
	}
	return state
}

// ConsentPrompt returns the first-time consent copy.
func (sf *EscalationSubflow) ConsentPrompt() string { return consentPrompt }

// ConsentRenewalPrompt returns the renewal variant, distinct from first-time capture.
func (sf *EscalationSubflow) ConsentRenewalPrompt() string { return consentRenewalPrompt }

// Advance processes one message against the active subflow. The timeout
// ceiling and cancellation phrases are evaluated before the step content.
// EscalationState.Step only moves through the fixed transition table; no
// step is skipped.
func (sf *EscalationSubflow) Advance(ctx context.Context, message string, conv *models.ConversationState) (*SubflowOutcome, error) {
	esc := conv.Subflow.Escalation
	if esc == nil || !esc.IsActive || esc.Step.IsTerminal() {
		return nil, fmt.Errorf("escalation subflow is not active for conversation %s", conv.ConversationID)
	}
	next := *esc

	// Timeout takes precedence over message content.
	if time.Since(next.StartTime) > sf.timeout {
		next.Step = models.EscalationStepTimeout
		next.IsActive = false
		slog.Info("EscalationSubflow.Advance: subflow timed out", "conversationID", conv.ConversationID)
		return &SubflowOutcome{
			Response:     models.ResponseContent{Text: timeoutMessage},
			Escalation:   next,
			ClearContact: true,
			Ended:        true,
		}, nil
	}

	// Explicit cancellation from any non-terminal step.
	if IsCancellation(message) {
		next.Step = models.EscalationStepCancelled
		next.IsActive = false
		slog.Info("EscalationSubflow.Advance: subflow cancelled", "conversationID", conv.ConversationID, "step", esc.Step)
		return &SubflowOutcome{
			Response: models.ResponseContent{
				Text:             cancelledMessage,
				SuggestedActions: []string{"Ask a health question", "Speak to a nurse"},
			},
			Escalation:   next,
			ClearContact: true,
			Ended:        true,
		}, nil
	}

	var outcome *SubflowOutcome
	var err error
	switch next.Step {
	case models.EscalationStepConsent:
		outcome, err = sf.advanceConsent(ctx, message, conv, next)
	case models.EscalationStepName:
		outcome = sf.advanceName(message, next)
	case models.EscalationStepContactMethod:
		outcome = sf.advanceContactMethod(message, next)
	case models.EscalationStepContactDetails:
		outcome = sf.advanceContactDetails(message, next)
	case models.EscalationStepConfirmation:
		outcome, err = sf.advanceConfirmation(ctx, message, conv, next)
	default:
		return nil, fmt.Errorf("unsupported escalation step %q", next.Step)
	}
	if err != nil {
		return nil, err
	}

	if !outcome.Ended {
		sf.applyTimeoutWarning(outcome)
	}
	return outcome, nil
}

// advanceConsent handles consent -> name on an affirmative, consent -> none
// on a decline. Anything else re-prompts.
func (sf *EscalationSubflow) advanceConsent(ctx context.Context, message string, conv *models.ConversationState, next models.EscalationState) (*SubflowOutcome, error) {
	// Declines first: "no thanks" must not match an affirmative.
	if IsNegative(message) {
		next.Step = models.EscalationStepNone
		next.IsActive = false
		slog.Info("EscalationSubflow.advanceConsent: consent declined", "conversationID", conv.ConversationID)
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: consentDeclinedMessage, SuggestedActions: []string{"Ask a health question"}},
			Escalation: next,
			Ended:      true,
		}, nil
	}
	if IsAffirmative(message) {
		consentRecorded := false
		if sf.gate != nil {
			if _, err := sf.gate.RecordConsent(ctx, conv.UserID, models.ConsentTypeEscalationContact); err != nil {
				// Consent was given in chat; persisting the record is audit
				// plumbing and must not strand the user mid-dialog.
				slog.Error("EscalationSubflow.advanceConsent: failed to persist consent record", "error", err, "userID", conv.UserID)
			} else {
				consentRecorded = true
			}
		}
		next.Step = models.EscalationStepName
		next.ConsentGiven = true
		return &SubflowOutcome{
			Response:        models.ResponseContent{Text: namePrompt},
			Escalation:      next,
			ConsentRecorded: consentRecorded,
		}, nil
	}
	return &SubflowOutcome{
		Response:   models.ResponseContent{Text: "Sorry, I need a yes or no. " + consentPrompt},
		Escalation: next,
	}, nil
}

// advanceName validates the extracted name token and moves to contact_method.
func (sf *EscalationSubflow) advanceName(message string, next models.EscalationState) *SubflowOutcome {
	name, err := ValidateName(ExtractNameToken(message))
	if err != nil {
		slog.Debug("EscalationSubflow.advanceName: name rejected", "error", err)
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: "Sorry, I didn't catch that. Could you tell me your first name? Letters only, at least two characters."},
			Escalation: next,
		}
	}
	next.Step = models.EscalationStepContactMethod
	next.UserName = name
	return &SubflowOutcome{
		Response:   models.ResponseContent{Text: fmt.Sprintf(contactMethodPrompt, name), SuggestedActions: []string{"1. Phone", "2. Email"}},
		Escalation: next,
		Contact:    &models.ContactInfo{Name: name},
	}
}

// advanceContactMethod parses the phone/email choice (numeric or keyword).
func (sf *EscalationSubflow) advanceContactMethod(message string, next models.EscalationState) *SubflowOutcome {
	lowered := strings.ToLower(strings.TrimSpace(message))
	var method models.ContactMethod
	switch {
	case lowered == "1" || strings.Contains(lowered, "phone") || strings.Contains(lowered, "call"):
		method = models.ContactMethodPhone
	case lowered == "2" || strings.Contains(lowered, "email") || strings.Contains(lowered, "e-mail"):
		method = models.ContactMethodEmail
	default:
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: "Sorry, I didn't understand. " + fmt.Sprintf(contactMethodPrompt, next.UserName), SuggestedActions: []string{"1. Phone", "2. Email"}},
			Escalation: next,
		}
	}

	next.Step = models.EscalationStepContactDetails
	next.ContactMethod = method
	prompt := phoneDetailsPrompt
	if method == models.ContactMethodEmail {
		prompt = emailDetailsPrompt
	}
	return &SubflowOutcome{
		Response:   models.ResponseContent{Text: prompt},
		Escalation: next,
		Contact:    &models.ContactInfo{Name: next.UserName, PreferredMethod: method},
	}
}

// advanceContactDetails runs the format validator for the chosen method. On
// failure the step does not advance; it re-prompts with the validation error
// and stays, bounded only by the subflow timeout.
func (sf *EscalationSubflow) advanceContactDetails(message string, next models.EscalationState) *SubflowOutcome {
	var normalized string
	var err error
	if next.ContactMethod == models.ContactMethodEmail {
		normalized, err = ValidateEmail(message)
	} else {
		normalized, err = ValidateUKPhone(message)
	}
	if err != nil {
		slog.Debug("EscalationSubflow.advanceContactDetails: validation failed", "method", next.ContactMethod, "error", err)
		reprompt := phoneDetailsPrompt
		kind := "phone number"
		if next.ContactMethod == models.ContactMethodEmail {
			reprompt = emailDetailsPrompt
			kind = "email address"
		}
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: fmt.Sprintf("That doesn't look like a valid %s. %s", kind, reprompt)},
			Escalation: next,
		}
	}

	next.Step = models.EscalationStepConfirmation
	next.ContactDetails = normalized
	contact := contactInfoFor(next)
	methodLabel := "Phone"
	if next.ContactMethod == models.ContactMethodEmail {
		methodLabel = "Email"
	}
	return &SubflowOutcome{
		Response: models.ResponseContent{
			Text:             fmt.Sprintf(confirmationPrompt, next.UserName, methodLabel, normalized),
			SuggestedActions: []string{"Yes", "Change"},
		},
		Escalation: next,
		Contact:    &contact,
	}
}

// advanceConfirmation dispatches to the notification collaborator on an
// affirmative. Edit requests (or a plain decline) return to contact_method.
// The dispatch happens at most once; its outcome is folded into this turn's
// state before anything becomes visible.
func (sf *EscalationSubflow) advanceConfirmation(ctx context.Context, message string, conv *models.ConversationState, next models.EscalationState) (*SubflowOutcome, error) {
	if IsEditRequest(message) || IsNegative(message) {
		next.Step = models.EscalationStepContactMethod
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: fmt.Sprintf(contactMethodPrompt, next.UserName), SuggestedActions: []string{"1. Phone", "2. Email"}},
			Escalation: next,
		}, nil
	}
	if !IsAffirmative(message) {
		methodLabel := "Phone"
		if next.ContactMethod == models.ContactMethodEmail {
			methodLabel = "Email"
		}
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: fmt.Sprintf(confirmationPrompt, next.UserName, methodLabel, next.ContactDetails)},
			Escalation: next,
		}, nil
	}

	event, err := sf.escalation.CreateEvent(ctx, conv.UserID, conv.SessionID,
		fmt.Sprintf("Callback requested by %s via %s (%s)", next.UserName, next.ContactMethod, next.ContactDetails),
		models.SafetyResult{})
	if err == nil {
		event.TriggerType = next.TriggerType
		event.Priority = next.Priority
		event.Contact = contactInfoFor(next)
		err = sf.escalation.NotifyTeam(ctx, event)
	}
	// A cancellation racing the dispatch wins: the result of a call that
	// outlived its turn is discarded rather than applied to state.
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		slog.Error("EscalationSubflow.advanceConfirmation: notification dispatch failed", "error", err, "conversationID", conv.ConversationID)
		next.IsActive = false
		return &SubflowOutcome{
			Response:   models.ResponseContent{Text: dispatchFailedMessage, SuggestedActions: []string{"Try again", "Ask a health question"}},
			Escalation: next,
			Ended:      true,
		}, nil
	}

	next.Step = models.EscalationStepCompleted
	next.IsActive = false
	slog.Info("EscalationSubflow.advanceConfirmation: callback dispatched", "conversationID", conv.ConversationID, "priority", next.Priority)
	return &SubflowOutcome{
		Response: models.ResponseContent{
			Text: fmt.Sprintf("Done - I've passed your details to the nursing team. %s", slaCopy[next.Priority]),
		},
		Escalation: next,
		Contact:    ptrContact(contactInfoFor(next)),
		Dispatched: true,
		Ended:      true,
	}, nil
}

// applyTimeoutWarning appends the expiry warning once when the subflow is in
// its final quarter of allowed time.
func (sf *EscalationSubflow) applyTimeoutWarning(outcome *SubflowOutcome) {
	if outcome.Escalation.TimeoutWarning {
		return
	}
	elapsed := time.Since(outcome.Escalation.StartTime)
	if elapsed > sf.timeout*3/4 {
		outcome.Response.Text += timeoutWarningSuffix
		outcome.Escalation.TimeoutWarning = true
	}
}

// DerivePriority classifies the triggering message's urgency. Informational
// only; it selects SLA copy, never transitions.
func DerivePriority(message string) models.EscalationPriority {
	lowered := strings.ToLower(message)
	for _, kw := range highUrgencyKeywords {
		if strings.Contains(lowered, kw) {
			return models.EscalationPriorityHigh
		}
	}
	for _, kw := range mediumUrgencyKeywords {
		if strings.Contains(lowered, kw) {
			return models.EscalationPriorityMedium
		}
	}
	return models.EscalationPriorityLow
}

func contactInfoFor(esc models.EscalationState) models.ContactInfo {
	contact := models.ContactInfo{Name: esc.UserName, PreferredMethod: esc.ContactMethod}
	if esc.ContactMethod == models.ContactMethodEmail {
		contact.Email = esc.ContactDetails
	} else {
		contact.Phone = esc.ContactDetails
	}
	return contact
}

func ptrContact(c models.ContactInfo) *models.ContactInfo { return &c }
