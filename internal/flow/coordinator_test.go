package flow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// countingNotifier records every delivered notification.
type countingNotifier struct {
	mu   sync.Mutex
	sent []models.Session
	err  error
}

func (n *countingNotifier) SendSessionData(ctx context.Context, sess models.Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sess)
	return nil
}

func fullyCollectedSession(t *testing.T, st store.Store) string {
	t.Helper()
	id, err := st.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	st.UpdateSessionField(id, models.FieldName, "Jane Doe")
	st.UpdateSessionField(id, models.FieldEmail, "jane@example.com")
	st.UpdateSessionField(id, models.FieldIncome, "$120k")
	return id
}

func TestCheckAndNotifyExactlyOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &countingNotifier{}
	coord := NewCompletionCoordinator(st, notifier)
	id := fullyCollectedSession(t, st)

	const callers = 8
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := coord.CheckAndNotify(context.Background(), id)
			if err != nil {
				t.Errorf("CheckAndNotify failed: %v", err)
			}
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for claimed := range results {
		if claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one claiming caller, got %d", winners)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected exactly one notification, got %d", len(notifier.sent))
	}
	if len(notifier.sent) == 1 {
		sent := notifier.sent[0]
		if sent.Status != models.SessionStatusComplete || sent.CompletedAt == nil {
			t.Error("expected notification to carry completed durable state")
		}
	}
}

func TestCheckAndNotifyIncompleteSession(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &countingNotifier{}
	coord := NewCompletionCoordinator(st, notifier)

	id, _ := st.CreateSession()
	st.UpdateSessionField(id, models.FieldName, "Jane Doe")

	claimed, err := coord.CheckAndNotify(context.Background(), id)
	if err != nil {
		t.Fatalf("CheckAndNotify failed: %v", err)
	}
	if claimed {
		t.Error("expected no claim for incomplete session")
	}
	if len(notifier.sent) != 0 {
		t.Errorf("expected no notification, got %d", len(notifier.sent))
	}

	sess, _ := st.GetSession(id)
	if sess.Status != models.SessionStatusActive {
		t.Errorf("expected session still active, got %q", sess.Status)
	}
}

func TestCheckAndNotifyMissingSession(t *testing.T) {
	coord := NewCompletionCoordinator(store.NewInMemoryStore(), nil)
	_, err := coord.CheckAndNotify(context.Background(), "no-such-session")
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCheckAndNotifyCompletionSticksOnNotifierFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &countingNotifier{err: errors.New("smtp down")}
	coord := NewCompletionCoordinator(st, notifier)
	id := fullyCollectedSession(t, st)

	claimed, err := coord.CheckAndNotify(context.Background(), id)
	if err != nil {
		t.Fatalf("expected notifier failure to be swallowed, got %v", err)
	}
	if !claimed {
		t.Error("expected claim despite notifier failure")
	}

	sess, _ := st.GetSession(id)
	if sess.Status != models.SessionStatusComplete {
		t.Errorf("expected completion to stand, got %q", sess.Status)
	}
}

func TestCheckAndNotifyAutoSendDisabled(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &countingNotifier{}
	coord := NewCompletionCoordinator(st, notifier)
	id := fullyCollectedSession(t, st)
	st.SetSetting(models.SettingAutoSendOnComplete, "false")

	claimed, err := coord.CheckAndNotify(context.Background(), id)
	if err != nil {
		t.Fatalf("CheckAndNotify failed: %v", err)
	}
	if !claimed {
		t.Error("expected completion claim with auto-send disabled")
	}
	if len(notifier.sent) != 0 {
		t.Errorf("expected no notification with auto-send disabled, got %d", len(notifier.sent))
	}
}

func TestCheckAndNotifyStickyComplete(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := &countingNotifier{}
	coord := NewCompletionCoordinator(st, notifier)
	id := fullyCollectedSession(t, st)

	if claimed, _ := coord.CheckAndNotify(context.Background(), id); !claimed {
		t.Fatal("expected first call to claim")
	}
	if claimed, _ := coord.CheckAndNotify(context.Background(), id); claimed {
		t.Error("expected repeat call not to claim")
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected a single notification across repeat calls, got %d", len(notifier.sent))
	}
}
