package flow

import (
	"log/slog"
	"sync"
)

// EngineFactory builds a conversation engine for a session id.
type EngineFactory func(sessionID string) (*ConversationEngine, error)

// EngineRegistry maps live sessions to their engines. The lock is held
// across the factory call, so concurrent requests for the same session
// always share a single engine instance.
type EngineRegistry struct {
	mu      sync.Mutex
	engines map[string]*ConversationEngine
	factory EngineFactory
}

// NewEngineRegistry creates a registry backed by the given factory.
func NewEngineRegistry(factory EngineFactory) *EngineRegistry {
	return &EngineRegistry{
		engines: make(map[string]*ConversationEngine),
		factory: factory,
	}
}

// GetOrCreate returns the engine for a session, building it on first use.
func (r *EngineRegistry) GetOrCreate(sessionID string) (*ConversationEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if engine, ok := r.engines[sessionID]; ok {
		return engine, nil
	}
	engine, err := r.factory(sessionID)
	if err != nil {
		return nil, err
	}
	r.engines[sessionID] = engine
	slog.Debug("EngineRegistry.GetOrCreate: engine created", "sessionID", sessionID, "live", len(r.engines))
	return engine, nil
}

// Remove drops a session's engine, typically after session deletion.
func (r *EngineRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, sessionID)
}

// Len returns the number of live engines.
func (r *EngineRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}
