// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trahoangdev/mini-chatbot/internal/metrics"
	"github.com/trahoangdev/mini-chatbot/internal/ollama"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
	"github.com/trahoangdev/mini-chatbot/internal/server"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
)

func (a *app) newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Long: `Run the HTTP relay in front of Ollama.

Routes are mounted under server.api_prefix (default /api/v1):
  GET    /chat/health
  GET    /chat/models
  POST   /chat/message
  POST   /chat/message/stream
  GET    /chat/conversation/{id}
  DELETE /chat/conversation/{id}

SIGINT or SIGTERM starts a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs the relay until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv, closeStore, err := a.buildServer(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return srv.ListenAndServe(ctx)
}

// buildServer wires the store, the Ollama client and the relay into an HTTP
// server. The returned func closes the store.
func (a *app) buildServer(ctx context.Context) (*server.Server, func(), error) {
	cfg := a.cfg

	store, err := storage.Open(ctx, storage.Options{
		Backend:   cfg.Store.Backend,
		Capacity:  cfg.Store.Capacity,
		RedisURL:  cfg.Store.RedisURL,
		KeyPrefix: cfg.Store.KeyPrefix,
		TTL:       cfg.Store.TTL.Duration,
		OnEvict: func(id string) {
			metrics.StoreEvictions.Inc()
			a.log.Debug().Str("conversation_id", id).Msg("conversation evicted")
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing conversation store")
		}
	}

	backend := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       cfg.Ollama.URL,
		DefaultModel:  cfg.Ollama.DefaultModel,
		HealthTimeout: cfg.Ollama.HealthTimeout.Duration,
		ModelsTimeout: cfg.Ollama.ModelsTimeout.Duration,
		ChatTimeout:   cfg.Ollama.ChatTimeout.Duration,
		Logger:        a.log,
	})

	svc := relay.NewService(relay.Config{
		Store:        store,
		Upstream:     relay.OllamaUpstream(backend),
		DefaultModel: cfg.Ollama.DefaultModel,
		Logger:       a.log,
	})

	a.log.Info().
		Str("store", cfg.Store.Backend).
		Str("ollama", backend.BaseURL()).
		Str("default_model", backend.DefaultModel()).
		Msg("starting relay")

	srv := server.New(server.Options{
		Config:  cfg.Server,
		Relay:   svc,
		Backend: backend,
		Logger:  a.log,

		ReplyTimeout: cfg.Ollama.ChatTimeout.Duration,
	})
	return srv, closeStore, nil
}
