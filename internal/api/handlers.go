// Package api provides HTTP handlers for LeadPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// streamEvent is one SSE or WebSocket chat event.
type streamEvent struct {
	Type          string                `json:"type"`
	Content       string                `json:"content,omitempty"`
	Message       string                `json:"message,omitempty"`
	DataCollected map[models.Field]bool `json:"data_collected,omitempty"`
	IsComplete    bool                  `json:"is_complete,omitempty"`
}

// createSessionHandler handles POST /api/sessions
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.createSessionHandler: processing request", "method", r.Method, "path", r.URL.Path)

	id, err := s.st.CreateSession()
	if err != nil {
		slog.Error("Server.createSessionHandler: create failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}

	slog.Info("Server.createSessionHandler: session created", "sessionID", id)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{
		"session_id": id,
		"greeting":   flow.RandomGreeting(),
	}))
}

// listSessionsHandler handles GET /api/sessions
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.st.ListSessions()
	if err != nil {
		slog.Error("Server.listSessionsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// getSessionHandler handles GET /api/sessions/{id}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.st.GetSession(id)
	if err != nil {
		slog.Error("Server.getSessionHandler: load failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// deleteSessionHandler handles DELETE /api/sessions/{id}
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.st.DeleteSession(id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.deleteSessionHandler: delete failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete session"))
		return
	}
	s.registry.Remove(id)
	slog.Info("Server.deleteSessionHandler: session deleted", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted successfully", nil))
}

// chatHandler handles POST /api/chat
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	engine, err := s.registry.GetOrCreate(req.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.chatHandler: engine creation failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to initialize conversation"))
		return
	}

	reply, err := engine.Turn(r.Context(), req.Message)
	if err != nil {
		slog.Warn("Server.chatHandler: turn rejected", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if engine.IsComplete() {
		if _, err := s.coordinator.CheckAndNotify(r.Context(), req.SessionID); err != nil {
			slog.Error("Server.chatHandler: completion check failed", "error", err, "sessionID", req.SessionID)
		}
	}

	writeJSONResponse(w, http.StatusOK, models.ChatResponse{
		Reply:         reply,
		SessionID:     req.SessionID,
		DataCollected: engine.CollectedFlags(),
		IsComplete:    engine.IsComplete(),
	})
}

// chatStreamHandler handles POST /api/chat/stream with server-sent events.
func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatStreamHandler: processing stream request", "method", r.Method, "path", r.URL.Path)

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	engine, err := s.registry.GetOrCreate(req.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.chatStreamHandler: engine creation failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to initialize conversation"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(ev streamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Server.chatStreamHandler: event marshal failed", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	_, turnErr := engine.TurnStream(r.Context(), req.Message, func(delta string) {
		writeEvent(streamEvent{Type: "chunk", Content: delta})
	})
	if turnErr != nil {
		slog.Warn("Server.chatStreamHandler: stream interrupted", "error", turnErr, "sessionID", req.SessionID)
		writeEvent(streamEvent{Type: "error", Message: turnErr.Error()})
	}

	if engine.IsComplete() {
		claimed, err := s.coordinator.CheckAndNotify(r.Context(), req.SessionID)
		if err != nil {
			slog.Error("Server.chatStreamHandler: completion check failed", "error", err, "sessionID", req.SessionID)
		} else if claimed {
			writeEvent(streamEvent{Type: "email_sent", Message: "Data successfully sent via email!"})
		}
	}

	writeEvent(streamEvent{
		Type:          "done",
		DataCollected: engine.CollectedFlags(),
		IsComplete:    engine.IsComplete(),
	})
}

// greetingHandler handles GET /api/greeting
func (s *Server) greetingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"greeting": flow.RandomGreeting()}))
}

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// getSettingsHandler handles GET /api/admin/settings
func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	recipient, err := s.st.GetSetting(models.SettingRecipientEmail)
	if err != nil {
		slog.Error("Server.getSettingsHandler: settings read failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read settings"))
		return
	}
	notifications, _ := s.st.GetSetting(models.SettingEmailNotificationsEnabled)
	autoSend, _ := s.st.GetSetting(models.SettingAutoSendOnComplete)

	writeJSONResponse(w, http.StatusOK, models.Success(models.SettingsResponse{
		RecipientEmail:            recipient,
		EmailNotificationsEnabled: notifications != "false",
		AutoSendOnComplete:        autoSend != "false",
		IsConfigured:              recipient != "",
	}))
}

// updateSettingsHandler handles POST /api/admin/settings
func (s *Server) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.SettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.updateSettingsHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.SetSetting(models.SettingRecipientEmail, req.RecipientEmail); err != nil {
		slog.Error("Server.updateSettingsHandler: recipient update failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update settings"))
		return
	}
	if req.EmailNotificationsEnabled != nil {
		if err := s.st.SetSetting(models.SettingEmailNotificationsEnabled, fmt.Sprintf("%t", *req.EmailNotificationsEnabled)); err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update settings"))
			return
		}
	}
	if req.AutoSendOnComplete != nil {
		if err := s.st.SetSetting(models.SettingAutoSendOnComplete, fmt.Sprintf("%t", *req.AutoSendOnComplete)); err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update settings"))
			return
		}
	}

	slog.Info("Server.updateSettingsHandler: settings updated", "recipient", req.RecipientEmail)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Settings updated successfully", nil))
}

// dashboardHandler handles GET /api/admin/dashboard
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.GetSessionStats()
	if err != nil {
		slog.Error("Server.dashboardHandler: stats failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute statistics"))
		return
	}
	sessions, err := s.st.ListSessions()
	if err != nil {
		slog.Error("Server.dashboardHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	knowledgeDocuments := 0
	if s.vectors != nil {
		knowledgeDocuments = s.vectors.Count()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"stats":               stats,
		"sessions":            sessions,
		"knowledge_documents": knowledgeDocuments,
	}))
}
