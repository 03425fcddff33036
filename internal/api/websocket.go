// Package api provides the WebSocket chat channel for LeadPipe.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// wsInbound is one client message on the WebSocket channel.
type wsInbound struct {
	Message string `json:"message"`
}

// websocketHandler handles GET /ws/{id}: a persistent chat channel that
// streams reply chunks as they are generated.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.st.GetSession(id)
	if err != nil {
		slog.Error("Server.websocketHandler: session load failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.websocketHandler: upgrade failed", "error", err, "sessionID", id)
		return
	}
	defer conn.Close()
	slog.Info("Server.websocketHandler: connection opened", "sessionID", id)

	// Fresh conversations open with a greeting.
	if len(sess.Turns) == 0 {
		if err := conn.WriteJSON(streamEvent{Type: "greeting", Message: flow.RandomGreeting()}); err != nil {
			slog.Warn("Server.websocketHandler: greeting write failed", "error", err, "sessionID", id)
			return
		}
	}

	engine, err := s.registry.GetOrCreate(id)
	if err != nil {
		conn.WriteJSON(streamEvent{Type: "error", Message: "Failed to initialize conversation"})
		return
	}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Server.websocketHandler: read failed", "error", err, "sessionID", id)
			}
			return
		}
		if strings.TrimSpace(in.Message) == "" {
			conn.WriteJSON(streamEvent{Type: "error", Message: models.ErrEmptyMessage.Error()})
			continue
		}

		_, turnErr := engine.TurnStream(r.Context(), in.Message, func(delta string) {
			if err := conn.WriteJSON(streamEvent{Type: "chunk", Content: delta}); err != nil {
				slog.Warn("Server.websocketHandler: chunk write failed", "error", err, "sessionID", id)
			}
		})
		if turnErr != nil {
			if errors.Is(turnErr, models.ErrEmptyMessage) || errors.Is(turnErr, models.ErrMessageTooLong) {
				conn.WriteJSON(streamEvent{Type: "error", Message: turnErr.Error()})
				continue
			}
			slog.Warn("Server.websocketHandler: stream interrupted", "error", turnErr, "sessionID", id)
		}

		if engine.IsComplete() {
			claimed, err := s.coordinator.CheckAndNotify(r.Context(), id)
			if err != nil {
				slog.Error("Server.websocketHandler: completion check failed", "error", err, "sessionID", id)
			} else if claimed {
				conn.WriteJSON(streamEvent{Type: "email_sent", Message: "Data successfully sent via email!"})
			}
		}

		if err := conn.WriteJSON(streamEvent{
			Type:          "done",
			DataCollected: engine.CollectedFlags(),
			IsComplete:    engine.IsComplete(),
		}); err != nil {
			slog.Warn("Server.websocketHandler: done write failed", "error", err, "sessionID", id)
			return
		}
	}
}
