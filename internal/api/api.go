// Package api provides HTTP handlers and the main API server logic for LeadPipe.
//
// It exposes RESTful endpoints for session management and chat turns, an SSE
// streaming chat endpoint, a WebSocket channel, and admin endpoints for
// notification settings and dashboard statistics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/LeadPipe/internal/email"
	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/rag"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Default server configuration constants
const (
	// DefaultAPIAddr is the default address the API server listens on
	DefaultAPIAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr overrides the default listen address.
	Addr string
	// KnowledgeBaseFile is indexed into the vector store on startup when
	// the store is empty.
	KnowledgeBaseFile string
}

// Option defines a functional option for API server configuration.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithKnowledgeBaseFile sets the knowledge base file indexed on startup.
func WithKnowledgeBaseFile(path string) Option {
	return func(o *Opts) { o.KnowledgeBaseFile = path }
}

// Server carries the wired modules behind the HTTP handlers.
type Server struct {
	st          store.Store
	registry    *flow.EngineRegistry
	coordinator *flow.CompletionCoordinator
	vectors     *rag.VectorStore // nil when retrieval is not configured
	upgrader    websocket.Upgrader
}

// NewServer creates a server over already-constructed modules. vectors may be
// nil when no vector store is configured.
func NewServer(st store.Store, registry *flow.EngineRegistry, coordinator *flow.CompletionCoordinator, vectors *rag.VectorStore) *Server {
	return &Server{
		st:          st,
		registry:    registry,
		coordinator: coordinator,
		vectors:     vectors,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The chat widget is served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /api/sessions", s.listSessionsHandler)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSessionHandler)
	mux.HandleFunc("POST /api/chat", s.chatHandler)
	mux.HandleFunc("POST /api/chat/stream", s.chatStreamHandler)
	mux.HandleFunc("GET /api/greeting", s.greetingHandler)
	mux.HandleFunc("GET /api/admin/settings", s.getSettingsHandler)
	mux.HandleFunc("POST /api/admin/settings", s.updateSettingsHandler)
	mux.HandleFunc("GET /api/admin/dashboard", s.dashboardHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws/{id}", s.websocketHandler)
	return mux
}

// Run wires all modules from the provided options and serves the API until
// interrupted. The vector store and email sender degrade gracefully: a
// missing knowledge base or SMTP configuration disables that module only.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, ragOpts []rag.Option, emailOpts []email.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAPIAddr
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	responder, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	var retriever rag.Retriever
	vectorStore, err := rag.NewVectorStore(ragOpts...)
	if err != nil {
		slog.Warn("API.Run: knowledge base unavailable, running without retrieval", "error", err)
	} else {
		retriever = vectorStore
		if cfg.KnowledgeBaseFile != "" && vectorStore.Count() == 0 {
			if chunks, err := vectorStore.IndexFile(context.Background(), cfg.KnowledgeBaseFile); err != nil {
				slog.Warn("API.Run: knowledge base indexing failed", "error", err, "path", cfg.KnowledgeBaseFile)
			} else {
				slog.Info("API.Run: knowledge base indexed", "path", cfg.KnowledgeBaseFile, "chunks", chunks)
			}
		}
	}

	var notifier flow.Notifier
	sender, err := email.NewSender(st, emailOpts...)
	if err != nil {
		slog.Warn("API.Run: email notifications unavailable", "error", err)
	} else {
		notifier = sender
	}

	extractor := extract.NewRegexExtractor()
	registry := flow.NewEngineRegistry(func(sessionID string) (*flow.ConversationEngine, error) {
		return flow.NewConversationEngine(st, responder, extractor, retriever, sessionID)
	})
	coordinator := flow.NewCompletionCoordinator(st, notifier)

	server := NewServer(st, registry, coordinator, vectorStore)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API.Run: LeadPipe API listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("API.Run: shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

// buildStore selects a backend by DSN shape: empty runs in memory,
// Postgres URLs or key=value connection strings pick Postgres, anything
// else is treated as a SQLite file path.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Warn("API.buildStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") || strings.Contains(cfg.DSN, "host="):
		return store.NewPostgresStore(storeOpts...)
	default:
		return store.NewSQLiteStore(storeOpts...)
	}
}
