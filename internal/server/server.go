// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/config"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
)

// ============================================================================
// CONSTANTS
// ============================================================================

// Messages returned in {success:false, error} bodies.
const (
	msgRouteNotFound    = "Route not found"
	msgMethodNotAllowed = "Method not allowed"
	msgInvalidBody      = "Invalid request body"
	msgBodyTooLarge     = "Request body too large"
	msgTooManyRequests  = "Too many requests"
	msgInternal         = "Internal server error"
	msgStreamingFailed  = "Streaming not supported"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second

	// defaultWriteTimeout bounds JSON responses when the config leaves it
	// unset. Chat handlers move the deadline for their own connection.
	defaultWriteTimeout = 60 * time.Second

	// replyGrace is added to the upstream chat timeout so a timed out turn
	// still has time to write its 504.
	replyGrace = 10 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Backend is the part of the model backend the server queries directly.
// *ollama.Client implements it.
type Backend interface {
	CheckRunning(ctx context.Context) error
	ModelNames(ctx context.Context) ([]string, error)
}

// Options holds the dependencies of a Server.
type Options struct {
	Config  config.ServerConfig
	Relay   *relay.Service
	Backend Backend
	Logger  zerolog.Logger

	// ReplyTimeout is the upstream chat timeout. POST /chat/message keeps
	// its connection writable for this long plus a grace period; zero
	// lifts the write deadline entirely.
	ReplyTimeout time.Duration
}

// Server is the HTTP front of the relay.
type Server struct {
	cfg     config.ServerConfig
	relay   *relay.Service
	backend Backend
	log     zerolog.Logger
	router  chi.Router

	replyTimeout time.Duration
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		relay:   opts.Relay,
		backend: opts.Backend,
		log:     opts.Logger.With().Str("component", "server").Logger(),

		replyTimeout: opts.ReplyTimeout,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(SecurityHeaders)
	if s.cfg.MaxBodyBytes > 0 {
		r.Use(MaxBodySize(s.cfg.MaxBodyBytes))
	}
	r.Use(chimw.RequestID)
	r.Use(Logger(s.log))
	r.Use(Recoverer(s.log))

	limiter := NewRateLimiter(s.cfg.RateLimit, s.cfg.RateWindow.Duration, s.log)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleRootHealth)

	r.Route(s.cfg.APIPrefix+"/chat", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/models", s.handleModels)
		r.Post("/message", s.handleMessage)
		r.Post("/message/stream", s.handleMessageStream)
		r.Get("/conversation/{id}", s.handleGetConversation)
		r.Delete("/conversation/{id}", s.handleDeleteConversation)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, msgRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	return r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
//
// On shutdown, in-flight requests get ShutdownTimeout to finish. Streams
// still running after that have their contexts cancelled, which tears down
// their upstream requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	writeTimeout := s.cfg.WriteTimeout.Duration
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("prefix", s.cfg.APIPrefix).Msg("server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.log.Info().Dur("timeout", timeout).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn().Msg("shutdown timed out, cancelling open streams")
		cancelBase()
		err = srv.Close()
	}
	<-errCh
	return err
}
