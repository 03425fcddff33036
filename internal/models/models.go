// Package models defines the core data structures for LeadPipe.
//
// It includes types for sessions, conversation turns, and settings, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Field identifies one of the structured fields collected during a conversation.
type Field string

const (
	// FieldName is the participant's name.
	FieldName Field = "name"
	// FieldEmail is the participant's email address.
	FieldEmail Field = "email"
	// FieldIncome is the participant's income level.
	FieldIncome Field = "income"
)

// AllFields returns the collectable fields in canonical order.
func AllFields() []Field {
	return []Field{FieldName, FieldEmail, FieldIncome}
}

// IsValidField checks if the given field is one of the collectable fields.
func IsValidField(f Field) bool {
	switch f {
	case FieldName, FieldEmail, FieldIncome:
		return true
	default:
		return false
	}
}

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	// SessionStatusActive indicates collection is still in progress.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusComplete indicates all fields were collected.
	SessionStatusComplete SessionStatus = "complete"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the participant.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the persona.
	RoleAssistant Role = "assistant"
)

// IsValidRole checks if the given role is supported for conversation turns.
func IsValidRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant
}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a chat message
	MaxMessageLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidField     = errors.New("invalid field name")
	ErrEmptyFieldValue  = errors.New("field value cannot be empty")
	ErrInvalidRole      = errors.New("invalid conversation role")
	ErrEmptySessionID   = errors.New("session_id cannot be empty")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrInvalidRecipient = errors.New("recipient_email is not a valid address")
)

// ConversationTurn is one immutable entry of a session's durable conversation log.
type ConversationTurn struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable record of one data-collection conversation.
//
// The three scalar fields are either absent (empty string) or a non-empty
// value; the Collected map always mirrors field presence.
type Session struct {
	ID          string             `json:"session_id"`
	CreatedAt   time.Time          `json:"created_at"`
	Status      SessionStatus      `json:"status"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Name        string             `json:"name,omitempty"`
	Email       string             `json:"email,omitempty"`
	Income      string             `json:"income,omitempty"`
	Collected   map[Field]bool     `json:"data_collected"`
	Turns       []ConversationTurn `json:"conversation_history,omitempty"`
}

// FieldValue returns the stored value for the given field, empty if absent.
func (s *Session) FieldValue(f Field) string {
	switch f {
	case FieldName:
		return s.Name
	case FieldEmail:
		return s.Email
	case FieldIncome:
		return s.Income
	default:
		return ""
	}
}

// SetFieldValue sets the named scalar field on the session.
func (s *Session) SetFieldValue(f Field, value string) error {
	switch f {
	case FieldName:
		s.Name = value
	case FieldEmail:
		s.Email = value
	case FieldIncome:
		s.Income = value
	default:
		return fmt.Errorf("%w: %s", ErrInvalidField, f)
	}
	return nil
}

// CollectedFlags derives the per-field collected map from field presence.
func (s *Session) CollectedFlags() map[Field]bool {
	flags := make(map[Field]bool, len(AllFields()))
	for _, f := range AllFields() {
		flags[f] = s.FieldValue(f) != ""
	}
	return flags
}

// AllCollected reports whether every collectable field has a non-empty value.
func (s *Session) AllCollected() bool {
	for _, f := range AllFields() {
		if s.FieldValue(f) == "" {
			return false
		}
	}
	return true
}

// MissingFields returns the fields that have not been collected yet, in canonical order.
func (s *Session) MissingFields() []Field {
	var missing []Field
	for _, f := range AllFields() {
		if s.FieldValue(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Setting is an operator-configurable key/value pair; last write wins.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Well-known setting keys for notification configuration.
const (
	// SettingRecipientEmail is the destination address for completion notifications.
	SettingRecipientEmail = "recipient_email"
	// SettingEmailNotificationsEnabled disables all notification sends when set to "false".
	SettingEmailNotificationsEnabled = "email_notifications_enabled"
	// SettingAutoSendOnComplete disables the automatic send on completion when set to "false".
	SettingAutoSendOnComplete = "auto_send_on_complete"
)

// SessionStats holds aggregate statistics over all sessions for the dashboard.
type SessionStats struct {
	TotalSessions     int `json:"total_sessions"`
	ActiveSessions    int `json:"active_sessions"`
	CompletedSessions int `json:"completed_sessions"`
	TotalMessages     int `json:"total_messages"`
	NamesCollected    int `json:"names_collected"`
	EmailsCollected   int `json:"emails_collected"`
	IncomesCollected  int `json:"incomes_collected"`
}

// ChatRequest is the request body for posting one chat turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Validate performs validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrEmptySessionID
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ChatResponse is the reply payload for a completed chat turn.
type ChatResponse struct {
	Reply         string         `json:"response"`
	SessionID     string         `json:"session_id"`
	DataCollected map[Field]bool `json:"data_collected"`
	IsComplete    bool           `json:"is_complete"`
}

// SettingsUpdateRequest carries operator updates to notification settings.
type SettingsUpdateRequest struct {
	RecipientEmail            string `json:"recipient_email"`
	EmailNotificationsEnabled *bool  `json:"email_notifications_enabled,omitempty"`
	AutoSendOnComplete        *bool  `json:"auto_send_on_complete,omitempty"`
}

// Validate performs validation on a SettingsUpdateRequest.
func (r *SettingsUpdateRequest) Validate() error {
	addr := strings.TrimSpace(r.RecipientEmail)
	if addr == "" {
		return ErrInvalidRecipient
	}
	at := strings.Index(addr, "@")
	if at <= 0 || at == len(addr)-1 || !strings.Contains(addr[at:], ".") {
		return ErrInvalidRecipient
	}
	return nil
}

// SettingsResponse reports the current notification configuration.
type SettingsResponse struct {
	RecipientEmail            string `json:"recipient_email"`
	EmailNotificationsEnabled bool   `json:"email_notifications_enabled"`
	AutoSendOnComplete        bool   `json:"auto_send_on_complete"`
	IsConfigured              bool   `json:"is_configured"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a success response with result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a success response with a message and result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
