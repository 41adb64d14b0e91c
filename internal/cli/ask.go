// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trahoangdev/mini-chatbot/internal/relay"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
	"github.com/trahoangdev/mini-chatbot/internal/streamclient"
)

// askOptions are the flags of the ask command.
type askOptions struct {
	model          string
	conversationID string
	noStream       bool
	save           bool
}

func (a *app) newAskCommand() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Long: `Ask a single question and print the reply.

With no arguments the question is read from stdin. The reply streams by
default; --no-stream waits for the full reply.`,
		Example: `  minichat ask "What is a goroutine?"
  echo "Summarise this" | minichat ask
  minichat ask --no-stream --model mistral "Hello"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && IsTTY() {
				return errors.New("no question given")
			}
			question, err := readQuestion(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			var history *storage.History
			if opts.save {
				if history, err = a.history(); err != nil {
					return err
				}
			}
			opts.model = a.modelFor(opts.model)
			return ask(cmd.Context(), a.client(), history, opts, question, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model for a new conversation")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "continue the server conversation with this id")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "wait for the full reply")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the exchange to local history")
	return cmd
}

// readQuestion joins args, or reads stdin when there are none.
func readQuestion(args []string, stdin io.Reader) (string, error) {
	q := strings.Join(args, " ")
	if q == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read question: %w", err)
		}
		q = string(data)
	}
	if strings.TrimSpace(q) == "" {
		return "", errors.New("no question given")
	}
	return q, nil
}

// ask runs one turn. The reply goes to out and the conversation id to errOut,
// so the reply can be piped on its own.
func ask(ctx context.Context, client *streamclient.Client, history *storage.History, opts askOptions, question string, out, errOut io.Writer) error {
	if opts.noStream {
		reply, err := client.Send(ctx, relay.Request{
			Message:        question,
			Model:          opts.model,
			ConversationID: opts.conversationID,
		})
		if err != nil {
			return errors.New(streamclient.DisplayMessage(err))
		}
		fmt.Fprintln(out, reply.Message.Content)
		fmt.Fprintln(errOut, DimStyle.Render("conversation: "+reply.ConversationID))
		return nil
	}

	chat := streamclient.NewChat(client, history, opts.model)
	if opts.conversationID != "" {
		chat.Resume(storage.HistoryEntry{ID: opts.conversationID})
	}

	p := &replyPrinter{w: out}
	_, err := chat.Send(ctx, question, p.update)
	p.finish()
	if err != nil {
		return errors.New(streamclient.DisplayMessage(err))
	}
	fmt.Fprintln(errOut, DimStyle.Render("conversation: "+chat.ConversationID()))
	return nil
}
