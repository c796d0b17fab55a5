// Package models defines topic handler descriptor types.
package models

// IntentRule is one (pattern, confidence, label) entry in a handler's ordered
// intent table. Pattern is a case-insensitive substring or regular expression
// depending on the matcher; rules are evaluated in order and the first match wins.
type IntentRule struct {
	Pattern    string  `json:"pattern" yaml:"pattern"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Label      string  `json:"label" yaml:"label"`
}

// TopicHandlerDescriptor describes a registered topic handler. Immutable
// after registration.
type TopicHandlerDescriptor struct {
	ID              string       `json:"id" yaml:"id"`
	DisplayName     string       `json:"display_name" yaml:"display_name"`
	Description     string       `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords        []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	IntentRules     []IntentRule `json:"intent_rules,omitempty" yaml:"intent_rules,omitempty"`
	SupportedStages []Stage      `json:"supported_stages" yaml:"supported_stages"`
	RequiresConsent bool         `json:"requires_consent" yaml:"requires_consent"`
	CanEscalate     bool         `json:"can_escalate" yaml:"can_escalate"`
	// Priority breaks confidence ties; higher wins.
	Priority int `json:"priority" yaml:"priority"`
	// ConversationStart marks the designated start handler, which may claim
	// any stage while the conversation has not started yet.
	ConversationStart bool `json:"conversation_start,omitempty" yaml:"conversation_start,omitempty"`
}

// SupportsStage reports whether the descriptor lists the given stage.
func (d TopicHandlerDescriptor) SupportsStage(s Stage) bool {
	for _, stage := range d.SupportedStages {
		if stage == s {
			return true
		}
	}
	return false
}
