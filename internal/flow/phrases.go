// Package flow provides the shared phrase tables used by the subflow and
// handlers. Phrase matching is data-driven so the tables can be unit-tested
// and extended independently of control flow.
package flow

import "strings"

// affirmativePhrases is the fixed positive-consent/confirmation set.
var affirmativePhrases = []string{
	"yes please", "yes", "yeah", "yep", "yup", "ok", "okay", "sure",
	"go ahead", "please do", "that's fine", "thats fine", "fine",
	"correct", "that's right", "thats right", "confirm", "confirmed", "absolutely",
}

// negativePhrases is the decline set.
var negativePhrases = []string{
	"no thanks", "no thank you", "no", "nope", "nah",
	"not now", "rather not", "i'd rather not", "don't", "dont",
}

// cancelPhrases abort the escalation subflow from any non-terminal step.
var cancelPhrases = []string{
	"cancel", "stop", "never mind", "nevermind", "forget it", "quit", "exit", "abort",
}

// editPhrases request a change of contact details at the confirmation step.
var editPhrases = []string{
	"change", "edit", "wrong", "update", "different", "mistake", "redo",
}

// matchesPhrase reports whether the message matches any phrase in the set.
// Short phrases must match the whole trimmed message; multi-word phrases
// match as substrings.
func matchesPhrase(message string, phrases []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.Trim(normalized, ".,!?")
	for _, phrase := range phrases {
		if strings.Contains(phrase, " ") {
			if strings.Contains(normalized, phrase) {
				return true
			}
		} else if normalized == phrase {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether the message is a positive response.
func IsAffirmative(message string) bool {
	return matchesPhrase(message, affirmativePhrases)
}

// IsNegative reports whether the message is a decline.
func IsNegative(message string) bool {
	// Negatives are checked before affirmatives by callers that need both;
	// "no thanks" must not fall through to a "thanks" keyword match.
	return matchesPhrase(message, negativePhrases)
}

// IsCancellation reports whether the message aborts an active subflow.
func IsCancellation(message string) bool {
	return matchesPhrase(message, cancelPhrases)
}

// IsEditRequest reports whether the message asks to change captured details.
func IsEditRequest(message string) bool {
	return matchesPhrase(message, editPhrases)
}
