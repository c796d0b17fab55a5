// Package flow provides input validators for the contact-capture steps.
package flow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/CareBridge/CarePath/internal/models"
)

var (
	// ukMobilePattern matches a normalized UK mobile number without the
	// leading zero or country code, e.g. "7123456789".
	ukMobilePattern = regexp.MustCompile(`^7\d{9}$`)
	// ukLandlinePattern matches a normalized UK landline number without the
	// leading zero, e.g. "2071234567".
	ukLandlinePattern = regexp.MustCompile(`^[1-9]\d{8,9}$`)
	emailPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	namePattern       = regexp.MustCompile(`^[a-zA-Z][a-zA-Z'\-]*$`)
)

// nameStopList holds generic acknowledgement words that must never be
// captured as a name.
var nameStopList = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "no": true, "nope": true,
	"ok": true, "okay": true, "sure": true, "thanks": true, "thank": true,
	"please": true, "hello": true, "hi": true, "hey": true, "fine": true,
	"good": true, "great": true, "cheers": true, "right": true,
}

// ValidateUKPhone checks a UK phone number and returns it normalized to the
// canonical +44 E.164 form. Spaces, dashes and parentheses are stripped
// before validation.
func ValidateUKPhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	var national string
	switch {
	case strings.HasPrefix(cleaned, "+44"):
		national = cleaned[3:]
	case strings.HasPrefix(cleaned, "44") && len(cleaned) > 10:
		national = cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		national = cleaned[1:]
	default:
		return "", models.ErrInvalidPhone
	}

	if !ukMobilePattern.MatchString(national) && !ukLandlinePattern.MatchString(national) {
		return "", models.ErrInvalidPhone
	}
	return "+44" + national, nil
}

// ValidateEmail checks an email address and returns it lowercased.
func ValidateEmail(raw string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(cleaned) {
		return "", models.ErrInvalidEmail
	}
	return cleaned, nil
}

// ValidateName checks an extracted name token: alphabetic (hyphens and
// apostrophes allowed), at least two characters, and not a generic
// acknowledgement word. The result is capitalized.
func ValidateName(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) < 2 {
		return "", models.ErrInvalidName
	}
	if nameStopList[strings.ToLower(cleaned)] {
		return "", fmt.Errorf("%w: %q looks like an acknowledgement, not a name", models.ErrInvalidName, cleaned)
	}
	if !namePattern.MatchString(cleaned) {
		return "", models.ErrInvalidName
	}
	return capitalizeName(cleaned), nil
}

// ExtractNameToken strips common lead-ins ("my name is", "I'm", "it's") and
// returns the remaining candidate token for name validation.
func ExtractNameToken(message string) string {
	cleaned := strings.TrimSpace(message)
	lowered := strings.ToLower(cleaned)
	for _, prefix := range []string{"my name is ", "my name's ", "the name is ", "i am ", "i'm ", "im ", "it's ", "its ", "call me ", "this is "} {
		if strings.HasPrefix(lowered, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			break
		}
	}
	// First word only; surnames are not needed for a callback.
	if idx := strings.IndexAny(cleaned, " \t"); idx > 0 {
		cleaned = cleaned[:idx]
	}
	return strings.Trim(cleaned, ".,!")
}

// capitalizeName normalizes casing: first letter upper, rest lower, with
// hyphenated parts handled individually.
func capitalizeName(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "-")
}
