package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/rag"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// windowEntry is one prompt-window message.
type windowEntry struct {
	role    models.Role
	content string
}

// ConversationEngine serializes all turns of one session and keeps its
// working state (prompt window, collected flags) consistent with the store.
//
// The mutex is never held across retrieval or generation calls: the engine
// snapshots state, performs the slow calls unlocked, then relocks to
// persist. Field values reach the store before the in-memory flag flips.
type ConversationEngine struct {
	mu        sync.Mutex
	sessionID string
	st        store.Store
	responder genai.ClientInterface
	extractor extract.Extractor
	retriever rag.Retriever // optional

	window    []windowEntry
	collected map[models.Field]bool
	complete  bool
}

// NewConversationEngine builds an engine for an existing session,
// reconciling its working state from the durable record.
func NewConversationEngine(st store.Store, responder genai.ClientInterface, extractor extract.Extractor, retriever rag.Retriever, sessionID string) (*ConversationEngine, error) {
	sess, err := st.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}

	e := &ConversationEngine{
		sessionID: sessionID,
		st:        st,
		responder: responder,
		extractor: extractor,
		retriever: retriever,
		collected: sess.CollectedFlags(),
		complete:  sess.Status == models.SessionStatusComplete,
	}

	turns := sess.Turns
	if len(turns) > HistoryWindowSize {
		turns = turns[len(turns)-HistoryWindowSize:]
	}
	for _, turn := range turns {
		e.window = append(e.window, windowEntry{role: turn.Role, content: turn.Content})
	}
	slog.Debug("ConversationEngine.New: state reconciled", "sessionID", sessionID, "windowSize", len(e.window), "complete", e.complete)
	return e, nil
}

// SessionID returns the session this engine serves.
func (e *ConversationEngine) SessionID() string {
	return e.sessionID
}

// CollectedFlags returns a copy of the current per-field collection state.
func (e *ConversationEngine) CollectedFlags() map[models.Field]bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	flags := make(map[models.Field]bool, len(e.collected))
	for f, v := range e.collected {
		flags[f] = v
	}
	return flags
}

// IsComplete reports whether every field has been collected.
func (e *ConversationEngine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete || e.allCollectedLocked()
}

func (e *ConversationEngine) allCollectedLocked() bool {
	for _, f := range models.AllFields() {
		if !e.collected[f] {
			return false
		}
	}
	return true
}

// Turn processes one user message and returns the persona reply. When
// generation fails, the turn is not persisted and the apology line is
// returned instead.
func (e *ConversationEngine) Turn(ctx context.Context, userText string) (string, error) {
	messages, err := e.prepareTurn(ctx, userText)
	if err != nil {
		return "", err
	}

	reply, err := e.responder.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("ConversationEngine.Turn: generation failed", "error", err, "sessionID", e.sessionID)
		return ApologyReply, nil
	}

	e.finishTurn(userText, reply)
	return reply, nil
}

// TurnStream processes one user message with a streamed reply, invoking
// onDelta per content fragment. A partial reply left by a broken stream is
// still persisted, so the durable log matches what the user saw.
func (e *ConversationEngine) TurnStream(ctx context.Context, userText string, onDelta func(string)) (string, error) {
	messages, err := e.prepareTurn(ctx, userText)
	if err != nil {
		return "", err
	}

	reply, streamErr := e.responder.GenerateStreamWithMessages(ctx, messages, onDelta)
	if streamErr != nil && reply == "" {
		slog.Error("ConversationEngine.TurnStream: generation failed", "error", streamErr, "sessionID", e.sessionID)
		if onDelta != nil {
			onDelta(ApologyReply)
		}
		return ApologyReply, nil
	}

	e.finishTurn(userText, reply)
	if streamErr != nil {
		slog.Warn("ConversationEngine.TurnStream: stream interrupted, partial reply persisted", "sessionID", e.sessionID, "length", len(reply))
		return reply, streamErr
	}
	return reply, nil
}

// prepareTurn validates the message, snapshots engine state, queries the
// knowledge base, and assembles the completion message list. The lock is
// released before retrieval.
func (e *ConversationEngine) prepareTurn(ctx context.Context, userText string) ([]openai.ChatCompletionMessageParamUnion, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, models.ErrEmptyMessage
	}
	if len(userText) > models.MaxMessageLength {
		return nil, models.ErrMessageTooLong
	}

	e.mu.Lock()
	window := make([]windowEntry, len(e.window))
	copy(window, e.window)
	var missing []models.Field
	for _, f := range models.AllFields() {
		if !e.collected[f] {
			missing = append(missing, f)
		}
	}
	e.mu.Unlock()

	var snippets []rag.Snippet
	if e.retriever != nil {
		var err error
		snippets, err = e.retriever.Query(ctx, userText, DefaultTopK, MinRelevanceScore)
		if err != nil {
			// A broken knowledge base degrades the reply, never the turn.
			slog.Warn("ConversationEngine.prepareTurn: retrieval failed", "error", err, "sessionID", e.sessionID)
			snippets = nil
		}
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(window)+3)
	messages = append(messages, openai.SystemMessage(SystemPrompt))
	for _, entry := range window {
		switch entry.role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(entry.content))
		default:
			messages = append(messages, openai.UserMessage(entry.content))
		}
	}
	if turnContext := buildTurnContext(snippets, missing); turnContext != "" {
		messages = append(messages, openai.SystemMessage(turnContext))
	}
	messages = append(messages, openai.UserMessage(userText))
	return messages, nil
}

// finishTurn extracts newly mentioned fields, persists them and the
// exchange, and updates the prompt window. Store failures are logged and
// do not surface to the user; a field flag only flips after its value is
// durably stored.
func (e *ConversationEngine) finishTurn(userText, reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	found := e.extractor.Extract(userText, e.collected)
	for _, f := range models.AllFields() {
		value, ok := found[f]
		if !ok {
			continue
		}
		if err := e.st.UpdateSessionField(e.sessionID, f, value); err != nil {
			slog.Error("ConversationEngine.finishTurn: field update failed", "error", err, "sessionID", e.sessionID, "field", f)
			continue
		}
		e.collected[f] = true
		slog.Info("ConversationEngine.finishTurn: field collected", "sessionID", e.sessionID, "field", f)
	}

	if err := e.st.AppendTurn(e.sessionID, models.RoleUser, userText); err != nil {
		slog.Error("ConversationEngine.finishTurn: user entry append failed", "error", err, "sessionID", e.sessionID)
	}
	if reply != "" {
		if err := e.st.AppendTurn(e.sessionID, models.RoleAssistant, reply); err != nil {
			slog.Error("ConversationEngine.finishTurn: assistant entry append failed", "error", err, "sessionID", e.sessionID)
		}
	}

	e.window = append(e.window, windowEntry{role: models.RoleUser, content: userText})
	if reply != "" {
		e.window = append(e.window, windowEntry{role: models.RoleAssistant, content: reply})
	}
	if len(e.window) > HistoryWindowSize {
		e.window = e.window[len(e.window)-HistoryWindowSize:]
	}
}
