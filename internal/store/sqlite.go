// Package store provides storage backends for CarePath.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/CareBridge/CarePath/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveConversation(state *models.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO conversations (conversation_id, user_id, session_id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET state_json=excluded.state_json, updated_at=excluded.updated_at`,
		state.ConversationID, state.UserID, nilIfEmpty(state.SessionID), string(stateJSON), state.CreatedAt, state.LastActivityAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ConversationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(conversationID string) (*models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state_json FROM conversations WHERE conversation_id = ?`, conversationID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query conversation %s: %w", conversationID, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", conversationID, err)
	}
	return &state, nil
}

func (s *SQLiteStore) DeleteConversation(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages for %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(conversationID string, msg models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert message for %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(conversationID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "conversationID", conversationID)
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

func (s *SQLiteStore) AddConsentRecord(record models.ConsentRecord) error {
	_, err := s.db.Exec(`INSERT INTO consent_records (id, user_id, consent_type, purpose, data_categories, legal_basis, capture_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, string(record.ConsentType), record.Purpose,
		strings.Join(record.DataCategories, ","), string(record.LegalBasis), string(record.CaptureMethod), record.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddConsentRecord failed", "error", err, "userID", record.UserID)
		return fmt.Errorf("failed to insert consent record for %s: %w", record.UserID, err)
	}
	slog.Debug("SQLiteStore AddConsentRecord succeeded", "userID", record.UserID, "legalBasis", record.LegalBasis)
	return nil
}

func (s *SQLiteStore) GetConsentRecords(userID string, consentType models.ConsentType) ([]models.ConsentRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, consent_type, purpose, data_categories, legal_basis, capture_method, created_at
		FROM consent_records WHERE user_id = ? AND consent_type = ? ORDER BY created_at`, userID, string(consentType))
	if err != nil {
		slog.Error("SQLiteStore GetConsentRecords query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query consent records: %w", err)
	}
	defer rows.Close()
	return scanConsentRecords(rows)
}

func (s *SQLiteStore) AddEscalationEvent(event models.EscalationEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation event: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO escalation_events (id, user_id, session_id, message, trigger_type, priority, event_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, nilIfEmpty(event.SessionID), event.Message,
		string(event.TriggerType), string(event.Priority), string(eventJSON), event.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddEscalationEvent failed", "error", err, "eventID", event.ID)
		return fmt.Errorf("failed to insert escalation event %s: %w", event.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEscalationEvents(userID string) ([]models.EscalationEvent, error) {
	rows, err := s.db.Query(`SELECT event_json FROM escalation_events WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetEscalationEvents query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query escalation events: %w", err)
	}
	defer rows.Close()
	return scanEscalationEvents(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
