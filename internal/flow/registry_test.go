package flow

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

func TestEngineRegistryGetOrCreate(t *testing.T) {
	st := store.NewInMemoryStore()
	id, _ := st.CreateSession()

	var factoryCalls atomic.Int32
	registry := NewEngineRegistry(func(sessionID string) (*ConversationEngine, error) {
		factoryCalls.Add(1)
		return NewConversationEngine(st, &mockResponder{}, extract.NewRegexExtractor(), nil, sessionID)
	})

	const callers = 16
	engines := make([]*ConversationEngine, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := registry.GetOrCreate(id)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			engines[i] = e
		}(i)
	}
	wg.Wait()

	if got := factoryCalls.Load(); got != 1 {
		t.Errorf("expected factory called once, got %d", got)
	}
	for i := 1; i < callers; i++ {
		if engines[i] != engines[0] {
			t.Fatalf("expected all callers to share one engine instance")
		}
	}
	if registry.Len() != 1 {
		t.Errorf("expected one live engine, got %d", registry.Len())
	}
}

func TestEngineRegistryFactoryError(t *testing.T) {
	wantErr := errors.New("session missing")
	registry := NewEngineRegistry(func(sessionID string) (*ConversationEngine, error) {
		return nil, wantErr
	})

	if _, err := registry.GetOrCreate("x"); !errors.Is(err, wantErr) {
		t.Errorf("expected factory error to surface, got %v", err)
	}
	if registry.Len() != 0 {
		t.Errorf("expected no engine registered after factory error, got %d", registry.Len())
	}
}

func TestEngineRegistryRemove(t *testing.T) {
	st := store.NewInMemoryStore()
	id, _ := st.CreateSession()
	registry := NewEngineRegistry(func(sessionID string) (*ConversationEngine, error) {
		return NewConversationEngine(st, &mockResponder{}, extract.NewRegexExtractor(), nil, sessionID)
	})

	if _, err := registry.GetOrCreate(id); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	registry.Remove(id)
	if registry.Len() != 0 {
		t.Errorf("expected registry empty after Remove, got %d", registry.Len())
	}
}
