package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Notifier delivers the collected session data once a session completes.
type Notifier interface {
	SendSessionData(ctx context.Context, sess models.Session) error
}

// CompletionCoordinator performs the one-time transition of a session to
// complete. It trusts only the durable record, never in-memory flags: the
// store's conditional update is the claim, so concurrent callers agree on
// exactly one winner and the notification fires at most once.
type CompletionCoordinator struct {
	st       store.Store
	notifier Notifier // optional
}

// NewCompletionCoordinator creates a coordinator over the given store.
func NewCompletionCoordinator(st store.Store, notifier Notifier) *CompletionCoordinator {
	return &CompletionCoordinator{st: st, notifier: notifier}
}

// CheckAndNotify re-reads the durable session, and if every field is
// stored, claims the completion transition and fires the notification.
// It returns true only for the call that performed the transition. A
// failed notification is logged; the completion itself stands.
func (c *CompletionCoordinator) CheckAndNotify(ctx context.Context, sessionID string) (bool, error) {
	sess, err := c.st.GetSession(sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return false, models.ErrSessionNotFound
	}
	if !sess.AllCollected() {
		return false, nil
	}

	claimed, err := c.st.MarkSessionComplete(sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark session complete: %w", err)
	}
	if !claimed {
		return false, nil
	}
	slog.Info("CompletionCoordinator.CheckAndNotify: session completed", "sessionID", sessionID)

	if c.notifier == nil {
		return true, nil
	}
	autoSend, err := c.st.GetSetting(models.SettingAutoSendOnComplete)
	if err != nil {
		slog.Error("CompletionCoordinator.CheckAndNotify: auto-send setting read failed", "error", err, "sessionID", sessionID)
		return true, nil
	}
	if autoSend == "false" {
		slog.Debug("CompletionCoordinator.CheckAndNotify: auto-send disabled", "sessionID", sessionID)
		return true, nil
	}

	// Re-read so the notification carries the completed status and timestamp.
	done, err := c.st.GetSession(sessionID)
	if err != nil || done == nil {
		slog.Error("CompletionCoordinator.CheckAndNotify: reload for notification failed", "error", err, "sessionID", sessionID)
		return true, nil
	}
	if err := c.notifier.SendSessionData(ctx, *done); err != nil {
		slog.Error("CompletionCoordinator.CheckAndNotify: notification failed", "error", err, "sessionID", sessionID)
	}
	return true, nil
}
