// Package store provides storage backends for LeadPipe.
//
// This file implements an SQLite-backed store for sessions, conversation
// entries, and settings.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/LeadPipe/internal/models"
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
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateSession creates a new active session and returns its id.
func (s *SQLiteStore) CreateSession() (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO sessions (session_id, created_at, status) VALUES (?, ?, ?)`,
		id, time.Now().UTC(), models.SessionStatusActive)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err)
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "sessionID", id)
	return id, nil
}

// GetSession returns the session with its conversation history, or
// (nil, nil) when no such session exists.
func (s *SQLiteStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession scan failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	rows, err := s.db.Query(`SELECT id, session_id, role, content, timestamp FROM conversation_entries WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetSession entries query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query conversation entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			slog.Error("SQLiteStore GetSession entry scan failed", "error", err, "sessionID", sessionID)
			return nil, err
		}
		sess.Turns = append(sess.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetSession rows iteration failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to iterate conversation entries: %w", err)
	}
	slog.Debug("SQLiteStore GetSession succeeded", "sessionID", sessionID, "turns", len(sess.Turns))
	return sess, nil
}

// ListSessions returns all sessions, most recent first, without their
// conversation histories.
func (s *SQLiteStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, session_id`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSessions scan failed", "error", err)
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListSessions rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

// DeleteSession removes a session and its conversation history.
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversation_entries WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore DeleteSession entries failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete conversation entries: %w", err)
	}
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// UpdateSessionField stores a collected field value.
func (s *SQLiteStore) UpdateSessionField(sessionID string, field models.Field, value string) error {
	if err := validateFieldUpdate(field, value); err != nil {
		return err
	}
	col, err := fieldColumn(field)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(fmt.Sprintf(`UPDATE sessions SET %s = ? WHERE session_id = ?`, col), value, sessionID)
	if err != nil {
		slog.Error("SQLiteStore UpdateSessionField failed", "error", err, "sessionID", sessionID, "field", field)
		return fmt.Errorf("failed to update session field %s: %w", field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore UpdateSessionField succeeded", "sessionID", sessionID, "field", field)
	return nil
}

// AppendTurn appends one conversation entry with a server-side timestamp.
// The INSERT..SELECT form checks session existence in the same statement.
func (s *SQLiteStore) AppendTurn(sessionID string, role models.Role, content string) error {
	if err := validateTurn(role, content); err != nil {
		return err
	}

	res, err := s.db.Exec(`INSERT INTO conversation_entries (session_id, role, content, timestamp)
		SELECT session_id, ?, ?, ? FROM sessions WHERE session_id = ?`,
		role, content, time.Now().UTC(), sessionID)
	if err != nil {
		slog.Error("SQLiteStore AppendTurn failed", "error", err, "sessionID", sessionID, "role", role)
		return fmt.Errorf("failed to insert conversation entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore AppendTurn succeeded", "sessionID", sessionID, "role", role)
	return nil
}

// MarkSessionComplete transitions an active session to complete. The
// conditional UPDATE makes the transition a one-time claim under
// concurrent callers.
func (s *SQLiteStore) MarkSessionComplete(sessionID string) (bool, error) {
	res, err := s.db.Exec(`UPDATE sessions SET status = ?, completed_at = ? WHERE session_id = ? AND status <> ?`,
		models.SessionStatusComplete, time.Now().UTC(), sessionID, models.SessionStatusComplete)
	if err != nil {
		slog.Error("SQLiteStore MarkSessionComplete failed", "error", err, "sessionID", sessionID)
		return false, fmt.Errorf("failed to mark session complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if n > 0 {
		slog.Debug("SQLiteStore MarkSessionComplete claimed", "sessionID", sessionID)
		return true, nil
	}

	// No row changed: either already complete or missing.
	var status string
	err = s.db.QueryRow(`SELECT status FROM sessions WHERE session_id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore MarkSessionComplete status check failed", "error", err, "sessionID", sessionID)
		return false, fmt.Errorf("failed to check session status: %w", err)
	}
	return false, nil
}

// GetSessionStats returns aggregate statistics over all sessions.
func (s *SQLiteStore) GetSessionStats() (models.SessionStats, error) {
	var stats models.SessionStats
	err := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN name IS NOT NULL AND name <> '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN email IS NOT NULL AND email <> '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN income IS NOT NULL AND income <> '' THEN 1 ELSE 0 END), 0)
		FROM sessions`).Scan(&stats.TotalSessions, &stats.ActiveSessions, &stats.CompletedSessions,
		&stats.NamesCollected, &stats.EmailsCollected, &stats.IncomesCollected)
	if err != nil {
		slog.Error("SQLiteStore GetSessionStats session query failed", "error", err)
		return stats, fmt.Errorf("failed to query session stats: %w", err)
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM conversation_entries`).Scan(&stats.TotalMessages)
	if err != nil {
		slog.Error("SQLiteStore GetSessionStats entries query failed", "error", err)
		return stats, fmt.Errorf("failed to query message count: %w", err)
	}
	slog.Debug("SQLiteStore GetSessionStats succeeded", "total", stats.TotalSessions)
	return stats, nil
}

// GetSetting returns the value for a setting key, empty if unset.
func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSetting failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a setting value; last write wins.
func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	slog.Debug("SQLiteStore SetSetting succeeded", "key", key)
	return nil
}

// ListSettings returns all stored settings.
func (s *SQLiteStore) ListSettings() ([]models.Setting, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		slog.Error("SQLiteStore ListSettings query failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var setting models.Setting
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListSettings scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListSettings rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate setting rows: %w", err)
	}
	return settings, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
