// Package store provides storage backends for CarePath.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/CareBridge/CarePath/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveConversation(state *models.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO conversations (conversation_id, user_id, session_id, state_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`,
		state.ConversationID, state.UserID, nilIfEmpty(state.SessionID), string(stateJSON), state.CreatedAt, state.LastActivityAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ConversationID, err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(conversationID string) (*models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state_json FROM conversations WHERE conversation_id = $1`, conversationID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query conversation %s: %w", conversationID, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", conversationID, err)
	}
	return &state, nil
}

func (s *PostgresStore) DeleteConversation(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore DeleteConversation failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages for %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) AddMessage(conversationID string, msg models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		conversationID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert message for %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(conversationID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) AddConsentRecord(record models.ConsentRecord) error {
	_, err := s.db.Exec(`INSERT INTO consent_records (id, user_id, consent_type, purpose, data_categories, legal_basis, capture_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.UserID, string(record.ConsentType), record.Purpose,
		strings.Join(record.DataCategories, ","), string(record.LegalBasis), string(record.CaptureMethod), record.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddConsentRecord failed", "error", err, "userID", record.UserID)
		return fmt.Errorf("failed to insert consent record for %s: %w", record.UserID, err)
	}
	return nil
}

func (s *PostgresStore) GetConsentRecords(userID string, consentType models.ConsentType) ([]models.ConsentRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, consent_type, purpose, data_categories, legal_basis, capture_method, created_at
		FROM consent_records WHERE user_id = $1 AND consent_type = $2 ORDER BY created_at`, userID, string(consentType))
	if err != nil {
		slog.Error("PostgresStore GetConsentRecords query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query consent records: %w", err)
	}
	defer rows.Close()
	return scanConsentRecords(rows)
}

func (s *PostgresStore) AddEscalationEvent(event models.EscalationEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation event: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO escalation_events (id, user_id, session_id, message, trigger_type, priority, event_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.UserID, nilIfEmpty(event.SessionID), event.Message,
		string(event.TriggerType), string(event.Priority), string(eventJSON), event.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddEscalationEvent failed", "error", err, "eventID", event.ID)
		return fmt.Errorf("failed to insert escalation event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetEscalationEvents(userID string) ([]models.EscalationEvent, error) {
	rows, err := s.db.Query(`SELECT event_json FROM escalation_events WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("PostgresStore GetEscalationEvents query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query escalation events: %w", err)
	}
	defer rows.Close()
	return scanEscalationEvents(rows)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
