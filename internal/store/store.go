// Package store provides storage backends for LeadPipe.
//
// It includes an in-memory store used in tests and as a fallback, plus
// SQLite and PostgreSQL backends selected by DSN.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Store defines the persistence operations for sessions, conversation
// entries, and settings.
//
// GetSession returns (nil, nil) when the session does not exist; mutation
// methods return models.ErrSessionNotFound instead. MarkSessionComplete
// reports whether this call performed the active-to-complete transition,
// so the caller can fire completion side effects exactly once.
type Store interface {
	CreateSession() (string, error)
	GetSession(sessionID string) (*models.Session, error)
	ListSessions() ([]models.Session, error)
	DeleteSession(sessionID string) error
	UpdateSessionField(sessionID string, field models.Field, value string) error
	AppendTurn(sessionID string, role models.Role, content string) error
	MarkSessionComplete(sessionID string) (bool, error)
	GetSessionStats() (models.SessionStats, error)
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	ListSettings() ([]models.Setting, error)
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the data source name: a file path for SQLite, a connection
	// string for PostgreSQL.
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithDSN sets the data source name for the store.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// validateFieldUpdate checks field name and value before any backend write.
func validateFieldUpdate(field models.Field, value string) error {
	if !models.IsValidField(field) {
		return fmt.Errorf("%w: %s", models.ErrInvalidField, field)
	}
	if value == "" {
		return models.ErrEmptyFieldValue
	}
	return nil
}

// validateTurn checks role and content before any backend write.
func validateTurn(role models.Role, content string) error {
	if !models.IsValidRole(role) {
		return fmt.Errorf("%w: %s", models.ErrInvalidRole, role)
	}
	if content == "" {
		return models.ErrEmptyMessage
	}
	return nil
}

// InMemoryStore is a mutex-guarded in-memory Store, used in tests and as a
// fallback when no database is configured.
type InMemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*models.Session
	order      []string // session ids in creation order
	settings   map[string]models.Setting
	nextTurnID int64
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		settings: make(map[string]models.Setting),
	}
}

// CreateSession creates a new active session and returns its id.
func (s *InMemoryStore) CreateSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.sessions[id] = &models.Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Status:    models.SessionStatusActive,
	}
	s.order = append(s.order, id)
	return id, nil
}

// GetSession returns a copy of the session with its conversation history,
// or (nil, nil) when no such session exists.
func (s *InMemoryStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess), nil
}

// ListSessions returns all sessions, most recent first, without their
// conversation histories.
func (s *InMemoryStore) ListSessions() ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]models.Session, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		sess := cloneSession(s.sessions[s.order[i]])
		sess.Turns = nil
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// DeleteSession removes a session and its conversation history.
func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return models.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateSessionField stores a collected field value. The write is
// last-write-wins at this layer; overwrite policy belongs to the caller.
func (s *InMemoryStore) UpdateSessionField(sessionID string, field models.Field, value string) error {
	if err := validateFieldUpdate(field, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	return sess.SetFieldValue(field, value)
}

// AppendTurn appends one conversation entry with a server-side timestamp.
func (s *InMemoryStore) AppendTurn(sessionID string, role models.Role, content string) error {
	if err := validateTurn(role, content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	s.nextTurnID++
	sess.Turns = append(sess.Turns, models.ConversationTurn{
		ID:        s.nextTurnID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// MarkSessionComplete transitions an active session to complete. It returns
// true only for the call that performed the transition.
func (s *InMemoryStore) MarkSessionComplete(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, models.ErrSessionNotFound
	}
	if sess.Status == models.SessionStatusComplete {
		return false, nil
	}
	now := time.Now().UTC()
	sess.Status = models.SessionStatusComplete
	sess.CompletedAt = &now
	return true, nil
}

// GetSessionStats returns aggregate statistics over all sessions.
func (s *InMemoryStore) GetSessionStats() (models.SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.SessionStats
	for _, sess := range s.sessions {
		stats.TotalSessions++
		switch sess.Status {
		case models.SessionStatusActive:
			stats.ActiveSessions++
		case models.SessionStatusComplete:
			stats.CompletedSessions++
		}
		stats.TotalMessages += len(sess.Turns)
		if sess.Name != "" {
			stats.NamesCollected++
		}
		if sess.Email != "" {
			stats.EmailsCollected++
		}
		if sess.Income != "" {
			stats.IncomesCollected++
		}
	}
	return stats, nil
}

// GetSetting returns the value for a setting key, empty if unset.
func (s *InMemoryStore) GetSetting(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[key].Value, nil
}

// SetSetting stores a setting value; last write wins.
func (s *InMemoryStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// ListSettings returns all stored settings.
func (s *InMemoryStore) ListSettings() ([]models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := make([]models.Setting, 0, len(s.settings))
	for _, setting := range s.settings {
		settings = append(settings, setting)
	}
	return settings, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// cloneSession returns a deep copy with the Collected map derived from
// field presence.
func cloneSession(sess *models.Session) *models.Session {
	c := *sess
	c.Collected = sess.CollectedFlags()
	if sess.CompletedAt != nil {
		completedAt := *sess.CompletedAt
		c.CompletedAt = &completedAt
	}
	if len(sess.Turns) > 0 {
		c.Turns = make([]models.ConversationTurn, len(sess.Turns))
		copy(c.Turns, sess.Turns)
	}
	return &c
}
