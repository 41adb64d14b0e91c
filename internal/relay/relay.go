// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/metrics"
	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/ollama"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
)

// DefaultModel is used when neither the request nor the service names one.
const DefaultModel = "llama2"

// =============================================================================
// WIRE TYPES
// =============================================================================

// Request is the body of a chat message request.
type Request struct {
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Event is one downstream frame of a streaming turn. Chunk is the full
// assistant text so far, not a delta.
type Event struct {
	Success        bool   `json:"success"`
	Chunk          string `json:"chunk,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	Done           bool   `json:"done"`
	Error          string `json:"error,omitempty"`
}

// Reply is the result of a non-streaming turn.
type Reply struct {
	ConversationID string        `json:"conversationId"`
	Message        model.Message `json:"message"`
	Model          string        `json:"model"`
}

// =============================================================================
// SERVICE
// =============================================================================

// Config holds the dependencies of a Service.
type Config struct {
	Store        storage.ConversationStore
	Upstream     Upstream
	DefaultModel string
	Logger       zerolog.Logger
}

// Service runs chat turns. It is safe for concurrent use; turns share state
// only through the store.
type Service struct {
	store        storage.ConversationStore
	upstream     Upstream
	defaultModel string
	log          zerolog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	return &Service{
		store:        cfg.Store,
		upstream:     cfg.Upstream,
		defaultModel: cfg.DefaultModel,
		log:          cfg.Logger.With().Str("component", "relay").Logger(),
	}
}

// DefaultModel returns the model used for new conversations without one.
func (s *Service) DefaultModel() string {
	return s.defaultModel
}

// Conversation returns a stored conversation.
func (s *Service) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrConversationNotFound) {
		return nil, &TurnError{Kind: KindNotFound, Message: MsgNotFound, Err: err}
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		return nil, &TurnError{Kind: KindInternal, Message: "Failed to retrieve conversation", Err: err}
	}
	return conv, nil
}

// Clear deletes a conversation. Clearing an unknown id succeeds.
func (s *Service) Clear(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		return &TurnError{Kind: KindInternal, Message: "Failed to clear conversation", Err: err}
	}
	s.observeStore(ctx)
	return nil
}

// storeError counts a store failure and wraps it for the caller.
func storeError(op string, err error) *TurnError {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &TurnError{Kind: KindInternal, Message: MsgProcessFailed, Err: err}
}

func (s *Service) observeStore(ctx context.Context) {
	if n, err := s.store.Len(ctx); err == nil {
		metrics.StoreConversations.Set(float64(n))
	}
}

// =============================================================================
// TURN
// =============================================================================

// Turn is an accepted chat turn whose user message is already stored.
type Turn struct {
	// Conversation is the turn's private copy, user message included.
	Conversation *model.Conversation

	// UserMessage is the message appended by StartTurn.
	UserMessage model.Message

	// MessageID is the id the assistant reply carries on every event and in
	// the store.
	MessageID string

	// Model is the model the turn runs against.
	Model string

	svc      *Service
	upstream []ollama.Message
	log      zerolog.Logger
}

// StartTurn validates req, resolves its conversation and stores the user
// message. An empty message fails with KindValidation and changes nothing.
func (s *Service) StartTurn(ctx context.Context, req Request) (*Turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &TurnError{Kind: KindValidation, Message: MsgMessageRequired, Err: ErrValidation}
	}

	conv, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	// Upstream sees the prior history plus the new message, role and
	// content only.
	history := make([]ollama.Message, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		history = append(history, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}
	user := conv.AddUserMessage(req.Message)
	history = append(history, ollama.NewUserMessage(user.Content))

	if err := s.store.Put(ctx, conv); err != nil {
		return nil, storeError("put", err)
	}
	s.observeStore(ctx)

	t := &Turn{
		Conversation: conv,
		UserMessage:  user,
		MessageID:    model.NewMessageID(),
		Model:        conv.Model,
		svc:          s,
		upstream:     history,
	}
	t.log = s.log.With().
		Str("conversation_id", conv.ID).
		Str("message_id", t.MessageID).
		Str("model", t.Model).
		Logger()
	return t, nil
}

// resolve returns the stored conversation named by req, or a new one when
// the id is absent or unknown.
func (s *Service) resolve(ctx context.Context, req Request) (*model.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := s.store.Get(ctx, req.ConversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, storage.ErrConversationNotFound) {
			return nil, storeError("get", err)
		}
		s.log.Debug().Str("conversation_id", req.ConversationID).Msg("unknown conversation, starting a new one")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.defaultModel
	}
	return model.NewConversation(modelName), nil
}

// event fills in the turn's ids.
func (t *Turn) event(e Event) Event {
	e.ConversationID = t.Conversation.ID
	e.MessageID = t.MessageID
	return e
}

// Stream runs the turn in streaming mode. emit is called once per non-empty
// fragment with the cumulative text, then once with Done set, or once with
// Success false if the turn fails. A non-nil error from emit means the
// consumer is gone: the upstream request is torn down and Stream returns
// ErrClientGone.
//
// The returned error describes how the turn ended; it is nil only when the
// assistant message was stored.
func (t *Turn) Stream(ctx context.Context, emit func(Event) error) error {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	start := time.Now()
	stream, err := t.svc.upstream.ChatStream(ctx, t.Model, t.upstream)
	if err != nil {
		return t.fail(ctx, upstreamError(err), emit)
	}
	defer stream.Close()

	var content strings.Builder
	for stream.Next() {
		chunk := stream.Chunk()
		if chunk.Content != "" {
			if content.Len() == 0 {
				metrics.UpstreamFirstFragment.Observe(time.Since(start).Seconds())
			}
			content.WriteString(chunk.Content)

			if err := emit(t.event(Event{Success: true, Chunk: content.String()})); err != nil {
				return t.gone(err)
			}
			metrics.ChunksSent.Inc()
		}
		if chunk.Done {
			break
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return t.gone(err)
		}
		return t.fail(ctx, upstreamError(err), emit)
	}

	// Store before announcing done so a client that reads the conversation
	// right after sees the reply.
	msg := t.Conversation.AddAssistantMessage(t.MessageID, content.String())
	if err := t.svc.store.Put(context.WithoutCancel(ctx), t.Conversation); err != nil {
		metrics.TurnsTotal.WithLabelValues("stream", "store_error").Inc()
		t.log.Error().Err(err).Msg("storing reply failed")
		return t.emitError(storeError("put", err), emit)
	}

	metrics.TurnsTotal.WithLabelValues("stream", "success").Inc()
	t.log.Info().
		Int("chars", len(msg.Content)).
		Dur("duration", time.Since(start)).
		Msg("stream turn complete")

	if err := emit(t.event(Event{Success: true, Chunk: msg.Content, Done: true})); err != nil {
		// The reply is stored; only the final frame was lost.
		t.log.Debug().Err(err).Msg("done event not delivered")
	}
	return nil
}

// fail emits the single error event of a failed turn.
func (t *Turn) fail(ctx context.Context, terr *TurnError, emit func(Event) error) error {
	if terr.Kind == KindClientAbort {
		return t.gone(terr)
	}

	metrics.TurnsTotal.WithLabelValues("stream", "error").Inc()
	metrics.UpstreamErrors.WithLabelValues(terr.Kind.String()).Inc()
	t.log.Warn().Err(terr).Msg("stream turn failed")
	return t.emitError(terr, emit)
}

func (t *Turn) emitError(terr *TurnError, emit func(Event) error) error {
	if err := emit(t.event(Event{Success: false, Error: terr.Message})); err != nil {
		t.log.Debug().Err(err).Msg("error event not delivered")
	}
	return terr
}

func (t *Turn) gone(cause error) error {
	metrics.TurnsTotal.WithLabelValues("stream", "aborted").Inc()
	t.log.Info().Err(cause).Msg("client went away, upstream request cancelled")
	return &TurnError{Kind: KindClientAbort, Message: "Request was cancelled", Err: errors.Join(ErrClientGone, cause)}
}

// =============================================================================
// NON-STREAMING
// =============================================================================

// Send runs a whole turn and waits for the complete reply. On failure the
// user message stays stored and the error is a *TurnError.
func (s *Service) Send(ctx context.Context, req Request) (*Reply, error) {
	t, err := s.StartTurn(ctx, req)
	if err != nil {
		if KindOf(err) == KindValidation {
			metrics.TurnsTotal.WithLabelValues("single", "invalid").Inc()
		}
		return nil, err
	}

	start := time.Now()
	resp, err := s.upstream.Chat(ctx, t.Model, t.upstream)
	if err != nil {
		terr := upstreamError(err)
		metrics.TurnsTotal.WithLabelValues("single", "error").Inc()
		metrics.UpstreamErrors.WithLabelValues(terr.Kind.String()).Inc()
		t.log.Warn().Err(err).Msg("turn failed")
		return nil, terr
	}

	msg := t.Conversation.AddAssistantMessage(t.MessageID, resp.Message.Content)
	if err := s.store.Put(context.WithoutCancel(ctx), t.Conversation); err != nil {
		metrics.TurnsTotal.WithLabelValues("single", "store_error").Inc()
		t.log.Error().Err(err).Msg("storing reply failed")
		return nil, storeError("put", err)
	}

	metrics.TurnsTotal.WithLabelValues("single", "success").Inc()
	t.log.Info().
		Int("chars", len(msg.Content)).
		Dur("duration", time.Since(start)).
		Msg("turn complete")

	modelName := resp.Model
	if modelName == "" {
		modelName = t.Model
	}
	return &Reply{ConversationID: t.Conversation.ID, Message: msg, Model: modelName}, nil
}
