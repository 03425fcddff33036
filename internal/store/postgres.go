// Package store provides storage backends for LeadPipe.
//
// This file implements a PostgreSQL-backed store for sessions, conversation
// entries, and settings.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/BTreeMap/LeadPipe/internal/models"
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
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// CreateSession creates a new active session and returns its id.
func (s *PostgresStore) CreateSession() (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO sessions (session_id, created_at, status) VALUES ($1, $2, $3)`,
		id, time.Now().UTC(), models.SessionStatusActive)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err)
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "sessionID", id)
	return id, nil
}

// GetSession returns the session with its conversation history, or
// (nil, nil) when no such session exists.
func (s *PostgresStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession scan failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	rows, err := s.db.Query(`SELECT id, session_id, role, content, timestamp FROM conversation_entries WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetSession entries query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query conversation entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			slog.Error("PostgresStore GetSession entry scan failed", "error", err, "sessionID", sessionID)
			return nil, err
		}
		sess.Turns = append(sess.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetSession rows iteration failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to iterate conversation entries: %w", err)
	}
	slog.Debug("PostgresStore GetSession succeeded", "sessionID", sessionID, "turns", len(sess.Turns))
	return sess, nil
}

// ListSessions returns all sessions, most recent first, without their
// conversation histories.
func (s *PostgresStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, session_id`)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("PostgresStore ListSessions scan failed", "error", err)
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListSessions rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

// DeleteSession removes a session; conversation entries go with it via
// the foreign key cascade.
func (s *PostgresStore) DeleteSession(sessionID string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// UpdateSessionField stores a collected field value.
func (s *PostgresStore) UpdateSessionField(sessionID string, field models.Field, value string) error {
	if err := validateFieldUpdate(field, value); err != nil {
		return err
	}
	col, err := fieldColumn(field)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(fmt.Sprintf(`UPDATE sessions SET %s = $1 WHERE session_id = $2`, col), value, sessionID)
	if err != nil {
		slog.Error("PostgresStore UpdateSessionField failed", "error", err, "sessionID", sessionID, "field", field)
		return fmt.Errorf("failed to update session field %s: %w", field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore UpdateSessionField succeeded", "sessionID", sessionID, "field", field)
	return nil
}

// AppendTurn appends one conversation entry with a server-side timestamp.
func (s *PostgresStore) AppendTurn(sessionID string, role models.Role, content string) error {
	if err := validateTurn(role, content); err != nil {
		return err
	}

	res, err := s.db.Exec(`INSERT INTO conversation_entries (session_id, role, content, timestamp)
		SELECT session_id, $1, $2, $3 FROM sessions WHERE session_id = $4`,
		role, content, time.Now().UTC(), sessionID)
	if err != nil {
		slog.Error("PostgresStore AppendTurn failed", "error", err, "sessionID", sessionID, "role", role)
		return fmt.Errorf("failed to insert conversation entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore AppendTurn succeeded", "sessionID", sessionID, "role", role)
	return nil
}

// MarkSessionComplete transitions an active session to complete. The
// conditional UPDATE makes the transition a one-time claim under
// concurrent callers.
func (s *PostgresStore) MarkSessionComplete(sessionID string) (bool, error) {
	res, err := s.db.Exec(`UPDATE sessions SET status = $1, completed_at = $2 WHERE session_id = $3 AND status <> $1`,
		models.SessionStatusComplete, time.Now().UTC(), sessionID)
	if err != nil {
		slog.Error("PostgresStore MarkSessionComplete failed", "error", err, "sessionID", sessionID)
		return false, fmt.Errorf("failed to mark session complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if n > 0 {
		slog.Debug("PostgresStore MarkSessionComplete claimed", "sessionID", sessionID)
		return true, nil
	}

	// No row changed: either already complete or missing.
	var status string
	err = s.db.QueryRow(`SELECT status FROM sessions WHERE session_id = $1`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore MarkSessionComplete status check failed", "error", err, "sessionID", sessionID)
		return false, fmt.Errorf("failed to check session status: %w", err)
	}
	return false, nil
}

// GetSessionStats returns aggregate statistics over all sessions.
func (s *PostgresStore) GetSessionStats() (models.SessionStats, error) {
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
		slog.Error("PostgresStore GetSessionStats session query failed", "error", err)
		return stats, fmt.Errorf("failed to query session stats: %w", err)
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM conversation_entries`).Scan(&stats.TotalMessages)
	if err != nil {
		slog.Error("PostgresStore GetSessionStats entries query failed", "error", err)
		return stats, fmt.Errorf("failed to query message count: %w", err)
	}
	slog.Debug("PostgresStore GetSessionStats succeeded", "total", stats.TotalSessions)
	return stats, nil
}

// GetSetting returns the value for a setting key, empty if unset.
func (s *PostgresStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSetting failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a setting value; last write wins.
func (s *PostgresStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	slog.Debug("PostgresStore SetSetting succeeded", "key", key)
	return nil
}

// ListSettings returns all stored settings.
func (s *PostgresStore) ListSettings() ([]models.Setting, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		slog.Error("PostgresStore ListSettings query failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var setting models.Setting
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListSettings scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListSettings rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate setting rows: %w", err)
	}
	return settings, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
