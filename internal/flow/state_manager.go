// Package flow provides the conversation state manager.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/store"
)

// DefaultConversationTTL is the idle lifetime of a conversation before the
// sweep removes it.
const DefaultConversationTTL = 30 * time.Minute

// DescriptorSource resolves a topic ID to its registered descriptor. The
// handler registry implements this; the state manager uses it to reject
// transitions to stages a topic does not support.
type DescriptorSource interface {
	Descriptor(topicID string) (models.TopicHandlerDescriptor, bool)
}

// StateManager owns all in-process conversation state. Updates for a single
// conversation are serialized; updates for different conversations proceed in
// parallel. Every read returns a clone, so callers can never mutate the
// manager's copy in place.
type StateManager struct {
	mu          sync.RWMutex
	states      map[string]*models.ConversationState
	turnLocks   map[string]*sync.Mutex
	ttl         time.Duration
	descriptors DescriptorSource
	store       store.Store // optional write-through persistence, may be nil
}

// NewStateManager creates a state manager with the default TTL and no
// persistence backend.
func NewStateManager() *StateManager {
	return NewStateManagerWithOptions(DefaultConversationTTL, nil)
}

// NewStateManagerWithOptions creates a state manager with an explicit idle
// TTL and an optional store for write-through conversation snapshots.
func NewStateManagerWithOptions(ttl time.Duration, st store.Store) *StateManager {
	slog.Debug("flow.NewStateManagerWithOptions: creating state manager", "ttl", ttl, "hasStore", st != nil)
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &StateManager{
		states:    make(map[string]*models.ConversationState),
		turnLocks: make(map[string]*sync.Mutex),
		ttl:       ttl,
		store:     st,
	}
}

// SetDescriptorSource wires the registry in after construction. Registry and
// state manager reference each other, so one side is injected late.
func (sm *StateManager) SetDescriptorSource(src DescriptorSource) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.descriptors = src
}

// BeginTurn acquires the per-conversation turn lock and returns its release
// function. The engine holds this for a whole turn so turn N+1 of a
// conversation only starts after turn N's commit is visible.
func (sm *StateManager) BeginTurn(conversationID string) func() {
	sm.mu.Lock()
	lock, ok := sm.turnLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		sm.turnLocks[conversationID] = lock
	}
	sm.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetOrCreate returns the state for a conversation, creating it on first
// contact. An expired conversation is replaced with a fresh one (on-access sweep).
func (sm *StateManager) GetOrCreate(ctx context.Context, conversationID, userID, sessionID string) (*models.ConversationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	if state, ok := sm.states[conversationID]; ok && now.Before(state.ExpiresAt) {
		return state.Clone(), nil
	}

	if _, ok := sm.states[conversationID]; ok {
		slog.Info("StateManager.GetOrCreate: conversation expired, creating fresh state", "conversationID", conversationID)
		delete(sm.states, conversationID)
	}

	state := &models.ConversationState{
		ConversationID: conversationID,
		UserID:         userID,
		SessionID:      sessionID,
		CurrentStage:   models.StageInformationGathering,
		Subflow:        models.SubflowContext{Kind: models.SubflowNone},
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(sm.ttl),
	}
	sm.states[conversationID] = state
	sm.persist(state)
	slog.Debug("StateManager.GetOrCreate: created conversation state", "conversationID", conversationID, "userID", userID)
	return state.Clone(), nil
}

// GetCurrent returns the current state for a conversation, or
// models.ErrConversationGone if it does not exist. Two consecutive calls with
// no intervening update return identical state.
func (sm *StateManager) GetCurrent(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	state, ok := sm.states[conversationID]
	if !ok {
		return nil, models.ErrConversationGone
	}
	return state.Clone(), nil
}

// Update applies a partial patch atomically and returns the new state. The
// patch is applied to a clone which is then swapped in, so readers either see
// the whole patch or none of it.
func (sm *StateManager) Update(ctx context.Context, conversationID string, patch models.StatePatch) (*models.ConversationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[conversationID]
	if !ok {
		slog.Error("StateManager.Update: conversation not found", "conversationID", conversationID)
		return nil, models.ErrConversationGone
	}

	next := state.Clone()
	patch.Apply(next)
	sm.touch(next)
	sm.states[conversationID] = next
	sm.persist(next)
	slog.Debug("StateManager.Update: patch committed", "conversationID", conversationID, "stage", next.CurrentStage, "topic", next.CurrentTopic)
	return next.Clone(), nil
}

// Commit applies a patch and appends messages in a single atomic step. This
// is what the engine uses at the end of a turn, so the external-call outcome
// and the state change become visible together.
func (sm *StateManager) Commit(ctx context.Context, conversationID string, patch models.StatePatch, messages ...models.ConversationMessage) (*models.ConversationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[conversationID]
	if !ok {
		slog.Error("StateManager.Commit: conversation not found", "conversationID", conversationID)
		return nil, models.ErrConversationGone
	}

	next := state.Clone()
	patch.Apply(next)
	for _, msg := range messages {
		next.History = append(next.History, msg)
	}
	if len(next.History) > models.MaxHistoryMessages {
		next.History = next.History[len(next.History)-models.MaxHistoryMessages:]
	}
	sm.touch(next)
	sm.states[conversationID] = next
	sm.persist(next)
	sm.persistMessages(conversationID, messages)
	slog.Debug("StateManager.Commit: turn committed", "conversationID", conversationID, "messages", len(messages), "stage", next.CurrentStage)
	return next.Clone(), nil
}

// TransitionTopic moves a conversation to a new topic and stage, rejecting
// the transition when the topic's descriptor does not support the stage.
func (sm *StateManager) TransitionTopic(ctx context.Context, conversationID, newTopic string, newStage models.Stage) (*models.ConversationState, error) {
	if !models.IsValidStage(newStage) {
		err := &models.TransitionError{ConversationID: conversationID, Topic: newTopic, Stage: newStage, Reason: "unknown stage"}
		slog.Error("StateManager.TransitionTopic: rejected", "error", err)
		return nil, err
	}

	sm.mu.Lock()
	descriptors := sm.descriptors
	sm.mu.Unlock()

	if descriptors != nil {
		desc, ok := descriptors.Descriptor(newTopic)
		if !ok {
			err := &models.TransitionError{ConversationID: conversationID, Topic: newTopic, Stage: newStage, Reason: "unknown topic"}
			slog.Error("StateManager.TransitionTopic: rejected", "error", err)
			return nil, err
		}
		if !desc.SupportsStage(newStage) {
			err := &models.TransitionError{ConversationID: conversationID, Topic: newTopic, Stage: newStage, Reason: "stage not supported by topic"}
			slog.Error("StateManager.TransitionTopic: rejected", "error", err)
			return nil, err
		}
	}

	return sm.Update(ctx, conversationID, models.StatePatch{
		CurrentTopic: models.StringPtr(newTopic),
		CurrentStage: models.StagePtr(newStage),
	})
}

// AppendMessage appends one message to the bounded conversation history.
func (sm *StateManager) AppendMessage(ctx context.Context, conversationID string, msg models.ConversationMessage) error {
	_, err := sm.Commit(ctx, conversationID, models.StatePatch{}, msg)
	return err
}

// Delete removes a conversation entirely (admin erasure).
func (sm *StateManager) Delete(ctx context.Context, conversationID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.states[conversationID]; !ok {
		return models.ErrConversationGone
	}
	delete(sm.states, conversationID)
	delete(sm.turnLocks, conversationID)
	if sm.store != nil {
		if err := sm.store.DeleteConversation(conversationID); err != nil {
			slog.Error("StateManager.Delete: failed to delete persisted conversation", "conversationID", conversationID, "error", err)
			return err
		}
	}
	slog.Info("StateManager.Delete: conversation removed", "conversationID", conversationID)
	return nil
}

// SweepExpired removes conversations idle past their TTL and returns how many
// were removed.
func (sm *StateManager) SweepExpired() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	count := 0
	for id, state := range sm.states {
		if now.After(state.ExpiresAt) {
			delete(sm.states, id)
			delete(sm.turnLocks, id)
			if sm.store != nil {
				if err := sm.store.DeleteConversation(id); err != nil {
					slog.Warn("StateManager.SweepExpired: failed to delete persisted conversation", "conversationID", id, "error", err)
				}
			}
			count++
		}
	}
	if count > 0 {
		slog.Info("StateManager.SweepExpired: removed expired conversations", "count", count)
	}
	return count
}

// StartSweeper runs the periodic expiry sweep until the context is cancelled.
func (sm *StateManager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("StateManager sweeper stopped")
				return
			case <-ticker.C:
				sm.SweepExpired()
			}
		}
	}()
}

// Count returns the number of live conversations.
func (sm *StateManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.states)
}

// touch refreshes activity and expiry timestamps. Caller holds mu.
func (sm *StateManager) touch(state *models.ConversationState) {
	now := time.Now()
	state.LastActivityAt = now
	state.ExpiresAt = now.Add(sm.ttl)
}

// persistMessages appends turn messages to the durable message log, best
// effort. The in-state history is bounded; the log keeps the full record.
// Caller holds mu.
func (sm *StateManager) persistMessages(conversationID string, messages []models.ConversationMessage) {
	if sm.store == nil {
		return
	}
	for _, msg := range messages {
		if err := sm.store.AddMessage(conversationID, msg); err != nil {
			slog.Warn("StateManager.persistMessages: failed to persist message", "conversationID", conversationID, "error", err)
		}
	}
}

// persist writes a snapshot through to the store, best effort. Caller holds mu.
func (sm *StateManager) persist(state *models.ConversationState) {
	if sm.store == nil {
		return
	}
	if err := sm.store.SaveConversation(state); err != nil {
		slog.Warn("StateManager.persist: failed to persist snapshot", "conversationID", state.ConversationID, "error", err)
	}
}
