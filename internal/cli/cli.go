// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the minichat command line: the relay server and a
// terminal chat client for it.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trahoangdev/mini-chatbot/internal/config"
	"github.com/trahoangdev/mini-chatbot/internal/logging"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
	"github.com/trahoangdev/mini-chatbot/internal/streamclient"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app carries what the root command resolves for its subcommands.
type app struct {
	configPath string
	logLevel   string
	serverURL  string

	cfg      *config.Config
	log      zerolog.Logger
	logClose io.Closer
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "minichat",
		Short: "Streaming chat relay for a local Ollama server",
		Long: `minichat relays chat turns between a client and a local Ollama server.

Run "minichat serve" to start the HTTP relay, then "minichat chat" to talk to
it from the terminal.

Configuration is read from ~/.minichat/config.toml (or config.json), a .env
file in the working directory, and MINICHAT_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logClose != nil {
				return a.logClose.Close()
			}
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.minichat/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.serverURL, "server", "", "relay API URL for client commands")

	root.AddCommand(
		a.newServeCommand(),
		a.newChatCommand(),
		a.newAskCommand(),
		a.newModelsCommand(),
		a.newStatusCommand(),
		a.newHistoryCommand(),
		a.newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.serverURL != "" {
		cfg.Client.ServerURL = strings.TrimRight(a.serverURL, "/")
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.cfg, a.log, a.logClose = cfg, log, closer
	return nil
}

// client returns a relay API client for the configured server.
func (a *app) client() *streamclient.Client {
	return streamclient.New(streamclient.Options{
		BaseURL: a.cfg.Client.ServerURL,
		Timeout: a.cfg.Client.Timeout.Duration,
		Logger:  a.log,
	})
}

// history opens the local conversation list.
func (a *app) history() (*storage.History, error) {
	h, err := storage.OpenHistory(a.cfg.Client.HistoryFile, a.cfg.Client.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, nil
}

// modelFor picks the flag value, then the client setting, then the server
// default (empty lets the server choose).
func (a *app) modelFor(flag string) string {
	if flag != "" {
		return flag
	}
	return a.cfg.Client.Model
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, TitleStyle.Render("minichat "+Version))
			printField(w, "Commit:", GitCommit)
			printField(w, "Built:", BuildDate)
		},
	}
}
