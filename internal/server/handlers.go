// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/trahoangdev/mini-chatbot/internal/metrics"
	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/ollama"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
)

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// HealthResponse is the body of GET /chat/health.
type HealthResponse struct {
	Success   bool     `json:"success"`
	Connected bool     `json:"connected"`
	Models    []string `json:"models,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ModelsResponse is the body of GET /chat/models.
type ModelsResponse struct {
	Success   bool     `json:"success"`
	Models    []string `json:"models"`
	Connected bool     `json:"connected"`
	Error     string   `json:"error,omitempty"`
}

// MessageResponse is the body of a successful POST /chat/message.
type MessageResponse struct {
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversationId"`
	Message        model.Message `json:"message"`
	Model          string        `json:"model"`
}

// ConversationResponse is the body of GET /chat/conversation/{id}.
type ConversationResponse struct {
	Success      bool                `json:"success"`
	Conversation *model.Conversation `json:"conversation"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ============================================================================
// HEALTH AND MODELS
// ============================================================================

func (s *Server) handleRootHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Server is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleHealth answers 200 either way; success says whether Ollama is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.CheckRunning(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("ollama health check failed")
		writeJSON(w, http.StatusOK, HealthResponse{Error: ollama.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Success: true, Connected: true})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.backend.ModelNames(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("listing models failed")
		writeJSON(w, http.StatusOK, ModelsResponse{Models: []string{}, Error: ollama.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Success: true, Models: names, Connected: true})
}

// ============================================================================
// CHAT
// ============================================================================

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	// The reply can take as long as the upstream chat timeout, which is
	// longer than the server write timeout.
	deadline := time.Time{}
	if s.replyTimeout > 0 {
		deadline = time.Now().Add(s.replyTimeout + replyGrace)
	}
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
		s.log.Debug().Err(err).Msg("cannot extend write deadline")
	}

	reply, err := s.relay.Send(r.Context(), req)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Success:        true,
		ConversationID: reply.ConversationID,
		Message:        reply.Message,
		Model:          reply.Model,
	})
}

// handleMessageStream runs a streaming turn. Validation failures are plain
// JSON errors; once the turn is accepted every outcome is an event.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	turn, err := s.relay.StartTurn(ctx, req)
	if err != nil {
		if relay.KindOf(err) == relay.KindValidation {
			metrics.TurnsTotal.WithLabelValues("stream", "invalid").Inc()
		}
		s.writeTurnError(w, r, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		s.log.Error().Err(err).Msg("response writer cannot stream")
		writeError(w, http.StatusInternalServerError, msgStreamingFailed)
		return
	}

	defer sse.startHeartbeat(s.cfg.Heartbeat.Duration)()

	err = turn.Stream(ctx, func(e relay.Event) error {
		return sse.Event(e)
	})
	if err != nil && !errors.Is(err, relay.ErrClientGone) {
		s.log.Debug().
			Err(err).
			Str("request_id", chimw.GetReqID(ctx)).
			Str("conversation_id", turn.Conversation.ID).
			Msg("stream ended with error")
	}
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.relay.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Success: true, Conversation: conv})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Conversation cleared",
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// decodeRequest reads a chat request body, writing the error response
// itself when it fails.
func decodeRequest(w http.ResponseWriter, r *http.Request) (relay.Request, bool) {
	var req relay.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return req, false
		}
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return req, false
	}
	return req, true
}

// writeTurnError maps a relay error to a status and its public message.
func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().
			Err(err).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("kind", relay.KindOf(err).String()).
			Msg("request failed")
	}
	writeError(w, status, relay.PublicMessage(err))
}

func statusFor(err error) int {
	switch relay.KindOf(err) {
	case relay.KindValidation:
		return http.StatusBadRequest
	case relay.KindNotFound:
		return http.StatusNotFound
	case relay.KindUpstreamUnavailable, relay.KindUpstreamProtocol:
		return http.StatusBadGateway
	case relay.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case relay.KindClientAbort:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a {success:false, error} response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}
