// Package safety provides the crisis-detection gate for CarePath.
//
// The gate is a bounded, synchronous scan over an ordered table of
// (pattern, severity, label) entries. It performs no I/O and reads no
// conversation state, so worst-case latency is proportional to the size of
// the pattern table only. It runs before any other logic on every turn.
package safety

import (
	"log/slog"
	"strings"
	"time"

	"github.com/CareBridge/CarePath/internal/models"
)

// PatternEntry is one row of the crisis pattern table. Patterns are matched
// as case-insensitive substrings in table order; the first match wins.
type PatternEntry struct {
	Pattern  string          `yaml:"pattern"`
	Severity models.Severity `yaml:"severity"`
	Label    string          `yaml:"label"`
}

// FaultLabel is reported when classification itself fails. The gate fails
// closed: a classifier fault is treated as a high-severity crisis rather
// than risking a missed one.
const FaultLabel = "classifier-fault"

// defaultPatterns is the curated crisis table. Ordering matters: more acute
// signals come first so severity reporting stays meaningful when phrases overlap.
var defaultPatterns = []PatternEntry{
	{Pattern: "kill myself", Severity: models.SeverityHigh, Label: "suicide-intent"},
	{Pattern: "killing myself", Severity: models.SeverityHigh, Label: "suicide-intent"},
	{Pattern: "end my life", Severity: models.SeverityHigh, Label: "suicide-intent"},
	{Pattern: "ending my life", Severity: models.SeverityHigh, Label: "suicide-intent"},
	{Pattern: "take my own life", Severity: models.SeverityHigh, Label: "suicide-intent"},
	{Pattern: "suicide", Severity: models.SeverityHigh, Label: "suicide-mention"},
	{Pattern: "suicidal", Severity: models.SeverityHigh, Label: "suicide-mention"},
	{Pattern: "want to die", Severity: models.SeverityHigh, Label: "death-wish"},
	{Pattern: "wish i was dead", Severity: models.SeverityHigh, Label: "death-wish"},
	{Pattern: "wish i were dead", Severity: models.SeverityHigh, Label: "death-wish"},
	{Pattern: "better off dead", Severity: models.SeverityHigh, Label: "death-wish"},
	{Pattern: "overdose", Severity: models.SeverityHigh, Label: "overdose"},
	{Pattern: "hurt myself", Severity: models.SeverityMedium, Label: "self-harm"},
	{Pattern: "harm myself", Severity: models.SeverityMedium, Label: "self-harm"},
	{Pattern: "self harm", Severity: models.SeverityMedium, Label: "self-harm"},
	{Pattern: "self-harm", Severity: models.SeverityMedium, Label: "self-harm"},
	{Pattern: "cutting myself", Severity: models.SeverityMedium, Label: "self-harm"},
	{Pattern: "no reason to live", Severity: models.SeverityMedium, Label: "hopelessness"},
	{Pattern: "nothing to live for", Severity: models.SeverityMedium, Label: "hopelessness"},
	{Pattern: "can't go on", Severity: models.SeverityMedium, Label: "hopelessness"},
	{Pattern: "cant go on", Severity: models.SeverityMedium, Label: "hopelessness"},
	{Pattern: "give up on life", Severity: models.SeverityLow, Label: "hopelessness"},
	{Pattern: "don't want to be here anymore", Severity: models.SeverityLow, Label: "hopelessness"},
}

// Gate classifies raw message text against the crisis pattern table.
type Gate struct {
	patterns []PatternEntry
}

// NewGate creates a gate with the built-in pattern table.
func NewGate() *Gate {
	return &Gate{patterns: defaultPatterns}
}

// NewGateWithPatterns creates a gate with a custom table. Used by tests and
// by YAML-configured deployments; an empty table falls back to the default.
func NewGateWithPatterns(patterns []PatternEntry) *Gate {
	if len(patterns) == 0 {
		slog.Warn("safety.NewGateWithPatterns: empty pattern table, using default")
		patterns = defaultPatterns
	}
	return &Gate{patterns: patterns}
}

// PatternCount returns the size of the active table.
func (g *Gate) PatternCount() int {
	return len(g.patterns)
}

// Classify screens a single message for crisis language. Input is the raw,
// untrimmed user text. Never returns an unusable result: if the scan itself
// panics the gate fails closed, reporting a high-severity crisis with the
// fault label so the turn is still answered with the crisis response.
func (g *Gate) Classify(text string) (result models.SafetyResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("safety.Classify: classifier fault, failing closed", "panic", r)
			result = models.SafetyResult{IsCrisis: true, Severity: models.SeverityHigh, MatchedLabel: FaultLabel}
		}
		slog.Debug("safety.Classify: completed", "is_crisis", result.IsCrisis, "label", result.MatchedLabel, "elapsed", time.Since(start))
	}()

	lowered := strings.ToLower(text)
	for _, entry := range g.patterns {
		if strings.Contains(lowered, entry.Pattern) {
			slog.Info("safety.Classify: crisis signal detected", "label", entry.Label, "severity", entry.Severity)
			return models.SafetyResult{IsCrisis: true, Severity: entry.Severity, MatchedLabel: entry.Label}
		}
	}
	return models.SafetyResult{IsCrisis: false}
}
