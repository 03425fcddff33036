package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// fieldColumn maps a collectable field to its sessions column. The
// allowlist keeps field names out of dynamically built SQL.
func fieldColumn(f models.Field) (string, error) {
	switch f {
	case models.FieldName:
		return "name", nil
	case models.FieldEmail:
		return "email", nil
	case models.FieldIncome:
		return "income", nil
	default:
		return "", fmt.Errorf("%w: %s", models.ErrInvalidField, f)
	}
}

const sessionColumns = `session_id, created_at, status, completed_at, name, email, income`

// scanSessionRow scans a Session from a single sql.Row and derives its
// collected flags from field presence.
func scanSessionRow(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var completedAt sql.NullTime
	var name, email, income sql.NullString
	err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.Status, &completedAt, &name, &email, &income)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	sess.Name = name.String
	sess.Email = email.String
	sess.Income = income.String
	sess.Collected = sess.CollectedFlags()
	return &sess, nil
}

// scanSession scans a Session from sql.Rows.
func scanSession(rows *sql.Rows) (models.Session, error) {
	var sess models.Session
	var completedAt sql.NullTime
	var name, email, income sql.NullString
	err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.Status, &completedAt, &name, &email, &income)
	if err != nil {
		return sess, fmt.Errorf("scan session failed: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	sess.Name = name.String
	sess.Email = email.String
	sess.Income = income.String
	sess.Collected = sess.CollectedFlags()
	return sess, nil
}

// scanTurn scans a ConversationTurn from sql.Rows.
func scanTurn(rows *sql.Rows) (models.ConversationTurn, error) {
	var turn models.ConversationTurn
	err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &turn.Timestamp)
	if err != nil {
		return turn, fmt.Errorf("scan conversation entry failed: %w", err)
	}
	return turn, nil
}
