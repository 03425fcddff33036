package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/rag"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// mockResponder implements genai.ClientInterface with canned replies.
type mockResponder struct {
	mu            sync.Mutex
	replies       []string
	err           error
	streamPartial string
	streamErr     error
	calls         int
	lastMessages  []openai.ChatCompletionMessageParamUnion
}

func (m *mockResponder) nextReply() string {
	if len(m.replies) == 0 {
		return "canned reply"
	}
	i := m.calls - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i]
}

func (m *mockResponder) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMessages = messages
	if m.err != nil {
		return "", m.err
	}
	return m.nextReply(), nil
}

func (m *mockResponder) GenerateStreamWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(string)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMessages = messages
	if m.streamErr != nil {
		if m.streamPartial != "" && onDelta != nil {
			onDelta(m.streamPartial)
		}
		return m.streamPartial, m.streamErr
	}
	reply := m.nextReply()
	if onDelta != nil {
		onDelta(reply)
	}
	return reply, nil
}

// stubRetriever returns fixed snippets.
type stubRetriever struct {
	snippets []rag.Snippet
	err      error
}

func (s *stubRetriever) Query(ctx context.Context, text string, topK int, minScore float32) ([]rag.Snippet, error) {
	return s.snippets, s.err
}

// countingStore counts field updates per field on top of a real store.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	updates map[models.Field]int
}

func newCountingStore(st store.Store) *countingStore {
	return &countingStore{Store: st, updates: make(map[models.Field]int)}
}

func (c *countingStore) UpdateSessionField(sessionID string, field models.Field, value string) error {
	c.mu.Lock()
	c.updates[field]++
	c.mu.Unlock()
	return c.Store.UpdateSessionField(sessionID, field, value)
}

func newTestEngine(t *testing.T, st store.Store, responder *mockResponder, retriever rag.Retriever) (*ConversationEngine, string) {
	t.Helper()
	id, err := st.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	e, err := NewConversationEngine(st, responder, extract.NewRegexExtractor(), retriever, id)
	if err != nil {
		t.Fatalf("NewConversationEngine failed: %v", err)
	}
	return e, id
}

func TestTurnCollectsFieldsAndCompletes(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{replies: []string{"nice to meet you", "got it", "all set"}}
	e, id := newTestEngine(t, st, responder, nil)

	turns := []string{
		"Hi, my name is Jane Doe",
		"you can reach me at jane@example.com",
		"I make about $120k a year",
	}
	for i, text := range turns {
		reply, err := e.Turn(context.Background(), text)
		if err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
		if reply == "" || reply == ApologyReply {
			t.Fatalf("turn %d: unexpected reply %q", i, reply)
		}
	}

	if !e.IsComplete() {
		t.Error("expected engine to report completion after all fields")
	}

	sess, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.AllCollected() {
		t.Errorf("expected all fields stored, got %+v", sess.Collected)
	}
	if sess.Name != "Jane Doe" {
		t.Errorf("expected stored name, got %q", sess.Name)
	}
	if sess.Email != "jane@example.com" {
		t.Errorf("expected stored email, got %q", sess.Email)
	}
	if !strings.Contains(sess.Income, "120k") {
		t.Errorf("expected stored income, got %q", sess.Income)
	}
	if len(sess.Turns) != 6 {
		t.Errorf("expected 6 durable entries for 3 exchanges, got %d", len(sess.Turns))
	}
}

func TestTurnApologyOnResponderError(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{err: errors.New("model unavailable")}
	e, id := newTestEngine(t, st, responder, nil)

	reply, err := e.Turn(context.Background(), "my name is Jane Doe")
	if err != nil {
		t.Fatalf("expected apology instead of error, got %v", err)
	}
	if reply != ApologyReply {
		t.Errorf("expected apology reply, got %q", reply)
	}

	sess, _ := st.GetSession(id)
	if len(sess.Turns) != 0 {
		t.Errorf("expected no durable entries after failed turn, got %d", len(sess.Turns))
	}
	if sess.AllCollected() || sess.Name != "" {
		t.Errorf("expected flags unchanged after failed turn, got %+v", sess.Collected)
	}
	if e.IsComplete() {
		t.Error("expected engine not complete after failed turn")
	}
}

func TestTurnDoesNotOverwriteCollectedField(t *testing.T) {
	cs := newCountingStore(store.NewInMemoryStore())
	responder := &mockResponder{}
	e, id := newTestEngine(t, cs, responder, nil)

	if _, err := e.Turn(context.Background(), "my name is Jane Doe"); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if _, err := e.Turn(context.Background(), "actually my name is Bob Smith"); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	if cs.updates[models.FieldName] != 1 {
		t.Errorf("expected a single name update, got %d", cs.updates[models.FieldName])
	}
	sess, _ := cs.GetSession(id)
	if sess.Name != "Jane Doe" {
		t.Errorf("expected first value to stick, got %q", sess.Name)
	}
}

func TestTurnWindowTrimming(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{}
	e, id := newTestEngine(t, st, responder, nil)

	for i := 0; i < 7; i++ {
		if _, err := e.Turn(context.Background(), "tell me about the markets"); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}

	e.mu.Lock()
	windowSize := len(e.window)
	e.mu.Unlock()
	if windowSize != HistoryWindowSize {
		t.Errorf("expected window trimmed to %d entries, got %d", HistoryWindowSize, windowSize)
	}

	// The durable log keeps everything the window dropped.
	sess, _ := st.GetSession(id)
	if len(sess.Turns) != 14 {
		t.Errorf("expected full durable log of 14 entries, got %d", len(sess.Turns))
	}
}

func TestTurnValidation(t *testing.T) {
	st := store.NewInMemoryStore()
	e, _ := newTestEngine(t, st, &mockResponder{}, nil)

	if _, err := e.Turn(context.Background(), "   "); !errors.Is(err, models.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	long := strings.Repeat("x", models.MaxMessageLength+1)
	if _, err := e.Turn(context.Background(), long); !errors.Is(err, models.ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
}

func TestTurnInjectsRetrievedContext(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{}
	retriever := &stubRetriever{snippets: []rag.Snippet{{Text: "Gold hedges inflation.", Score: 0.9}}}
	e, _ := newTestEngine(t, st, responder, retriever)

	if _, err := e.Turn(context.Background(), "what about gold?"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	foundContext := false
	foundPersona := false
	for _, msg := range responder.lastMessages {
		text := messageText(msg)
		if strings.Contains(text, "Relevant information from knowledge base") && strings.Contains(text, "Gold hedges inflation.") {
			foundContext = true
		}
		if strings.Contains(text, "stock-market genius") {
			foundPersona = true
		}
	}
	if !foundContext {
		t.Error("expected retrieved snippet in prompt messages")
	}
	if !foundPersona {
		t.Error("expected persona system prompt in messages")
	}
}

func TestTurnSurvivesRetrieverFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{replies: []string{"still here"}}
	retriever := &stubRetriever{err: errors.New("index offline")}
	e, _ := newTestEngine(t, st, responder, retriever)

	reply, err := e.Turn(context.Background(), "what about gold?")
	if err != nil {
		t.Fatalf("expected turn to survive retriever failure, got %v", err)
	}
	if reply != "still here" {
		t.Errorf("expected normal reply, got %q", reply)
	}
}

func TestTurnStreamPersistsPartialOnError(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{streamPartial: "half a thought", streamErr: errors.New("connection dropped")}
	e, id := newTestEngine(t, st, responder, nil)

	var streamed strings.Builder
	reply, err := e.TurnStream(context.Background(), "hello", func(d string) { streamed.WriteString(d) })
	if err == nil {
		t.Fatal("expected stream error to surface")
	}
	if reply != "half a thought" {
		t.Errorf("expected partial reply returned, got %q", reply)
	}

	sess, _ := st.GetSession(id)
	if len(sess.Turns) != 2 {
		t.Fatalf("expected partial exchange persisted, got %d entries", len(sess.Turns))
	}
	if sess.Turns[1].Content != "half a thought" {
		t.Errorf("expected persisted assistant entry to match what streamed, got %q", sess.Turns[1].Content)
	}
}

func TestTurnStreamApologyWhenNothingArrived(t *testing.T) {
	st := store.NewInMemoryStore()
	responder := &mockResponder{streamErr: errors.New("model unavailable")}
	e, id := newTestEngine(t, st, responder, nil)

	var streamed strings.Builder
	reply, err := e.TurnStream(context.Background(), "hello", func(d string) { streamed.WriteString(d) })
	if err != nil {
		t.Fatalf("expected apology instead of error, got %v", err)
	}
	if reply != ApologyReply || streamed.String() != ApologyReply {
		t.Errorf("expected apology streamed and returned, got %q / %q", reply, streamed.String())
	}

	sess, _ := st.GetSession(id)
	if len(sess.Turns) != 0 {
		t.Errorf("expected nothing persisted, got %d entries", len(sess.Turns))
	}
}

func TestNewConversationEngineReconcilesState(t *testing.T) {
	st := store.NewInMemoryStore()
	id, _ := st.CreateSession()
	st.UpdateSessionField(id, models.FieldName, "Jane Doe")
	for i := 0; i < 12; i++ {
		st.AppendTurn(id, models.RoleUser, "ping")
		st.AppendTurn(id, models.RoleAssistant, "pong")
	}

	e, err := NewConversationEngine(st, &mockResponder{}, extract.NewRegexExtractor(), nil, id)
	if err != nil {
		t.Fatalf("NewConversationEngine failed: %v", err)
	}
	flags := e.CollectedFlags()
	if !flags[models.FieldName] || flags[models.FieldEmail] {
		t.Errorf("expected flags reconciled from store, got %v", flags)
	}
	e.mu.Lock()
	windowSize := len(e.window)
	e.mu.Unlock()
	if windowSize != HistoryWindowSize {
		t.Errorf("expected window seeded with last %d entries, got %d", HistoryWindowSize, windowSize)
	}

	if _, err := NewConversationEngine(st, &mockResponder{}, extract.NewRegexExtractor(), nil, "no-such-session"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for missing session, got %v", err)
	}
}

// messageText extracts the text content of a prompt message.
func messageText(m openai.ChatCompletionMessageParamUnion) string {
	switch {
	case m.OfSystem != nil:
		return m.OfSystem.Content.OfString.Value
	case m.OfUser != nil:
		return m.OfUser.Content.OfString.Value
	case m.OfAssistant != nil:
		return m.OfAssistant.Content.OfString.Value
	}
	return ""
}
