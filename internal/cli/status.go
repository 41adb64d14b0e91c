// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/trahoangdev/mini-chatbot/internal/streamclient"
)

func (a *app) newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available on the relay's Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := a.client().Models(cmd.Context())
			if err != nil {
				return errors.New(streamclient.DisplayMessage(err))
			}
			printModels(cmd.OutOrStdout(), models)
			return nil
		},
	}
}

func printModels(w io.Writer, models []string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models installed. Pull one with: ollama pull llama2"))
		return
	}
	for _, m := range models {
		fmt.Fprintln(w, "  "+ValueStyle.Render(m))
	}
}

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the relay and its Ollama connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(cmd.Context(), a.client(), a.cfg.Client.ServerURL, cmd.OutOrStdout())
		},
	}
}

// status prints the relay health. It fails when either hop is down.
func status(ctx context.Context, client *streamclient.Client, serverURL string, w io.Writer) error {
	fmt.Fprintln(w, TitleStyle.Render("Status"))
	printField(w, "Relay:", serverURL)

	health, err := client.Health(ctx)
	if err != nil {
		printField(w, "Reachable:", ErrorStyle.Render("no"))
		return errors.New(streamclient.DisplayMessage(err))
	}
	printField(w, "Reachable:", SuccessStyle.Render("yes"))

	if !health.Connected {
		printField(w, "Ollama:", ErrorStyle.Render("disconnected"))
		if health.Error != "" {
			return errors.New(health.Error)
		}
		return errors.New("ollama is not connected")
	}
	printField(w, "Ollama:", SuccessStyle.Render("connected"))
	return nil
}
