// Package safety provides YAML loading for deployment-specific pattern tables.
package safety

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/CareBridge/CarePath/internal/models"
	"gopkg.in/yaml.v3"
)

// patternFile is the on-disk shape of a pattern table override.
type patternFile struct {
	Patterns []PatternEntry `yaml:"patterns"`
}

// LoadPatterns reads a crisis pattern table from a YAML file. Entries must
// carry a pattern, a valid severity and a label; the table order in the file
// is the evaluation order.
func LoadPatterns(path string) ([]PatternEntry, error) {
	slog.Debug("safety.LoadPatterns: loading pattern table", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("safety.LoadPatterns: failed to read pattern file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		slog.Error("safety.LoadPatterns: failed to parse pattern file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	for i, entry := range pf.Patterns {
		if entry.Pattern == "" {
			return nil, fmt.Errorf("pattern entry %d: pattern cannot be empty", i)
		}
		if entry.Label == "" {
			return nil, fmt.Errorf("pattern entry %d: label cannot be empty", i)
		}
		switch entry.Severity {
		case models.SeverityHigh, models.SeverityMedium, models.SeverityLow:
		default:
			return nil, fmt.Errorf("pattern entry %d: invalid severity %q", i, entry.Severity)
		}
	}

	slog.Info("safety.LoadPatterns: pattern table loaded", "path", path, "count", len(pf.Patterns))
	return pf.Patterns, nil
}

// NewGateFromFile builds a gate from a YAML pattern file, falling back to the
// built-in table when path is empty.
func NewGateFromFile(path string) (*Gate, error) {
	if path == "" {
		return NewGate(), nil
	}
	patterns, err := LoadPatterns(path)
	if err != nil {
		return nil, err
	}
	return NewGateWithPatterns(patterns), nil
}
