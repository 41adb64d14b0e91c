// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trahoangdev/mini-chatbot/internal/storage"
)

func (a *app) newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved conversations",
		Long: `Manage the conversations saved by "minichat chat", most recent first.

Conversations are referred to by their list number or an id prefix.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.history()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), storage.FormatHistoryList(h.List()))
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <n|id>",
			Short: "Print a saved conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := a.history()
				if err != nil {
					return err
				}
				entry, err := findHistoryEntry(h, args[0])
				if err != nil {
					return err
				}
				printEntry(cmd.OutOrStdout(), entry)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <n|id>",
			Short: "Delete a saved conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := a.history()
				if err != nil {
					return err
				}
				entry, err := findHistoryEntry(h, args[0])
				if err != nil {
					return err
				}
				if err := h.Delete(entry.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted "+entry.Title))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete all saved conversations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := a.history()
				if err != nil {
					return err
				}
				n := h.Len()
				if err := h.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render(fmt.Sprintf("Cleared %d conversation(s).", n)))
				return nil
			},
		},
	)
	return cmd
}

// findHistoryEntry resolves a list number (1-based), a full id or a unique
// id prefix.
func findHistoryEntry(h *storage.History, ref string) (storage.HistoryEntry, error) {
	entries := h.List()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(entries) {
			return storage.HistoryEntry{}, fmt.Errorf("no conversation #%d (have %d)", n, len(entries))
		}
		return entries[n-1], nil
	}

	var match []storage.HistoryEntry
	for _, e := range entries {
		if e.ID == ref {
			return e, nil
		}
		if strings.HasPrefix(e.ID, ref) {
			match = append(match, e)
		}
	}
	switch len(match) {
	case 0:
		return storage.HistoryEntry{}, fmt.Errorf("no conversation matching %q", ref)
	case 1:
		return match[0], nil
	default:
		return storage.HistoryEntry{}, fmt.Errorf("%q matches %d conversations", ref, len(match))
	}
}

func printEntry(w io.Writer, e storage.HistoryEntry) {
	fmt.Fprintln(w, TitleStyle.Render(e.Title))
	printField(w, "ID:", e.ID)
	printField(w, "Model:", modelOrDefault(e.Model))
	printField(w, "Updated:", e.UpdatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(w)
	for _, m := range e.Messages {
		printMessage(w, m)
	}
}
