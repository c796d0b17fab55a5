// Package flow provides the topic handler registry and confidence selector.
package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/CareBridge/CarePath/internal/models"
)

// DefaultConfidenceFloor is the minimum confidence required for a handler to
// win selection outright. Below it the reserved unclear-intent handler is
// routed to instead of guessing.
const DefaultConfidenceFloor = 0.3

// Registry holds the registered topic handlers and performs selection.
// Registration order is preserved so tie-breaking stays deterministic.
type Registry struct {
	mu       sync.RWMutex
	handlers []TopicHandler
	byID     map[string]TopicHandler
	unclear  TopicHandler
	floor    float64
}

// NewRegistry creates an empty registry with the default confidence floor.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]TopicHandler),
		floor: DefaultConfidenceFloor,
	}
}

// SetConfidenceFloor overrides the selection floor. Values outside (0,1] are ignored.
func (r *Registry) SetConfidenceFloor(floor float64) {
	if floor <= 0 || floor > 1 {
		slog.Warn("Registry.SetConfidenceFloor: ignoring out-of-range floor", "floor", floor)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.floor = floor
}

// Register adds a handler. Descriptors are immutable after registration;
// duplicate IDs are rejected.
func (r *Registry) Register(h TopicHandler) error {
	desc := h.Descriptor()
	if desc.ID == "" {
		return fmt.Errorf("handler descriptor must have an ID")
	}
	if len(desc.SupportedStages) == 0 && !desc.ConversationStart {
		return fmt.Errorf("handler %s must support at least one stage", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[desc.ID]; exists {
		return fmt.Errorf("handler %s already registered", desc.ID)
	}
	r.handlers = append(r.handlers, h)
	r.byID[desc.ID] = h
	slog.Debug("Registry.Register: handler registered", "id", desc.ID, "priority", desc.Priority, "stages", desc.SupportedStages)
	return nil
}

// SetUnclearHandler installs the reserved fallback handler. It is never
// selected by confidence; Select routes to it when the best score is below
// the floor.
func (r *Registry) SetUnclearHandler(h TopicHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unclear = h
}

// Descriptor resolves a topic ID to its descriptor. Implements DescriptorSource.
func (r *Registry) Descriptor(topicID string) (models.TopicHandlerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byID[topicID]; ok {
		return h.Descriptor(), true
	}
	if r.unclear != nil && r.unclear.Descriptor().ID == topicID {
		return r.unclear.Descriptor(), true
	}
	return models.TopicHandlerDescriptor{}, false
}

// Count returns the number of registered handlers, excluding the reserved
// unclear-intent fallback.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Select picks the best handler for a message and state. Eligibility requires
// the current stage to be among the handler's supported stages, except the
// designated start handler which may claim any stage while the conversation
// has not started. Highest confidence wins; ties break by descending
// priority, then registration order. A best confidence below the floor routes
// to the unclear-intent handler.
func (r *Registry) Select(message string, state *models.ConversationState) (TopicHandler, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best TopicHandler
	var bestConfidence float64
	bestPriority := 0

	for _, h := range r.handlers {
		desc := h.Descriptor()
		eligible := desc.SupportsStage(state.CurrentStage) ||
			(desc.ConversationStart && !state.ConversationStarted)
		if !eligible {
			continue
		}

		confidence := clamp01(h.MatchConfidence(message, state))
		if best == nil || confidence > bestConfidence ||
			(confidence == bestConfidence && desc.Priority > bestPriority) {
			best = h
			bestConfidence = confidence
			bestPriority = desc.Priority
		}
	}

	if best == nil || bestConfidence < r.floor {
		if r.unclear != nil {
			slog.Debug("Registry.Select: confidence below floor, routing to unclear-intent handler",
				"best_confidence", bestConfidence, "floor", r.floor)
			return r.unclear, bestConfidence
		}
	}
	if best != nil {
		slog.Debug("Registry.Select: handler selected", "id", best.Descriptor().ID, "confidence", bestConfidence)
	}
	return best, bestConfidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScoreMessage computes a descriptor-driven confidence for a message: the
// ordered intent rules are checked first (first match wins), then keyword
// hits contribute a lower base score. Used by handlers whose matching is
// purely declarative.
func ScoreMessage(message string, desc models.TopicHandlerDescriptor) float64 {
	lowered := strings.ToLower(message)

	for _, rule := range desc.IntentRules {
		if strings.Contains(lowered, strings.ToLower(rule.Pattern)) {
			return clamp01(rule.Confidence)
		}
	}

	hits := 0
	for _, keyword := range desc.Keywords {
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	score := 0.3 + 0.1*float64(hits-1)
	if score > 0.6 {
		score = 0.6
	}
	return score
}
