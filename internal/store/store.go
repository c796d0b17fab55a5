// Package store provides storage backends for CarePath.
//
// It persists conversation snapshots, the message log, consent records and
// escalation events. SQLite and PostgreSQL backends share embedded SQL
// migrations; an in-memory implementation backs tests.
package store

import (
	"strings"
	"sync"

	"github.com/CareBridge/CarePath/internal/models"
)

// Store defines the persistence operations the engine and its collaborators use.
type Store interface {
	// Conversation snapshots
	SaveConversation(state *models.ConversationState) error
	GetConversation(conversationID string) (*models.ConversationState, error)
	DeleteConversation(conversationID string) error

	// Message log
	AddMessage(conversationID string, msg models.ConversationMessage) error
	GetMessages(conversationID string) ([]models.ConversationMessage, error)

	// Consent records
	AddConsentRecord(record models.ConsentRecord) error
	GetConsentRecords(userID string, consentType models.ConsentType) ([]models.ConsentRecord, error)

	// Escalation events
	AddEscalationEvent(event models.EscalationEvent) error
	GetEscalationEvents(userID string) ([]models.EscalationEvent, error)

	// Close releases the backend's resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a Store implementation for tests and local runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.ConversationState
	messages      map[string][]models.ConversationMessage
	consents      []models.ConsentRecord
	escalations   []models.EscalationEvent
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*models.ConversationState),
		messages:      make(map[string][]models.ConversationMessage),
	}
}

func (s *InMemoryStore) SaveConversation(state *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[state.ConversationID] = state.Clone()
	return nil
}

func (s *InMemoryStore) GetConversation(conversationID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

func (s *InMemoryStore) AddMessage(conversationID string, msg models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

func (s *InMemoryStore) GetMessages(conversationID string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]models.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) AddConsentRecord(record models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents = append(s.consents, record)
	return nil
}

func (s *InMemoryStore) GetConsentRecords(userID string, consentType models.ConsentType) ([]models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConsentRecord
	for _, record := range s.consents {
		if record.UserID == userID && record.ConsentType == consentType {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddEscalationEvent(event models.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, event)
	return nil
}

func (s *InMemoryStore) GetEscalationEvents(userID string) ([]models.EscalationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EscalationEvent
	for _, event := range s.escalations {
		if event.UserID == userID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
