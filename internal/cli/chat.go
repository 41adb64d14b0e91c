// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat against a running relay.
//
// Interactive commands:
//   /help, /h           Show available commands
//   /clear, /c          Clear the conversation (server and local)
//   /model [name]       Show or switch model
//   /models             List models the server offers
//   /history            List saved conversations
//   /resume <n|id>      Continue a saved conversation
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel the reply in flight
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/trahoangdev/mini-chatbot/internal/config"
	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
	"github.com/trahoangdev/mini-chatbot/internal/streamclient"
)

func (a *app) newChatCommand() *cobra.Command {
	var (
		modelName string
		resume    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with the relay.

Replies stream in as they are generated. Type /help for commands.`,
		Example: `  minichat chat
  minichat chat --model mistral
  minichat chat --resume 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.history()
			if err != nil {
				return err
			}
			client := a.client()
			s := newChatSession(client, history, a.modelFor(modelName), cmd.OutOrStdout())
			if resume != "" {
				if err := s.resume(resume); err != nil {
					return err
				}
			}
			return s.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model for new conversations")
	cmd.Flags().StringVarP(&resume, "resume", "r", "", "resume a saved conversation by number or id")
	return cmd
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession is the terminal front of a streamclient.Chat.
type chatSession struct {
	client  *streamclient.Client
	history *storage.History
	chat    *streamclient.Chat
	out     io.Writer
}

func newChatSession(client *streamclient.Client, history *storage.History, modelName string, out io.Writer) *chatSession {
	return &chatSession{
		client:  client,
		history: history,
		chat:    streamclient.NewChat(client, history, modelName),
		out:     out,
	}
}

// run is the read-eval loop. It returns on /quit, Ctrl+D or ctx cancel.
func (s *chatSession) run(ctx context.Context) error {
	s.banner(ctx)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := inputHistoryPath()
	loadInputHistory(line, historyFile)
	defer func() {
		saveInputHistory(line, historyFile)
		line.Close()
	}()

	// Outside the prompt Ctrl+C arrives as a signal and cancels the reply.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			s.chat.Abort()
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt(s.prompt())
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(s.out, DimStyle.Render("Type /quit or press Ctrl+D to exit."))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(s.out)
			return nil
		case err != nil:
			return err
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if s.handle(ctx, input) {
			return nil
		}
	}
}

func (s *chatSession) banner(ctx context.Context) {
	fmt.Fprintln(s.out, TitleStyle.Render("minichat"))

	health, err := s.client.Health(ctx)
	switch {
	case err != nil:
		fmt.Fprintln(s.out, WarningStyle.Render("Relay unreachable: "+streamclient.DisplayMessage(err)))
	case !health.Connected:
		msg := health.Error
		if msg == "" {
			msg = "Ollama is not connected"
		}
		fmt.Fprintln(s.out, WarningStyle.Render(msg))
	default:
		fmt.Fprintln(s.out, SuccessStyle.Render("Connected"))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+C cancels a reply, Ctrl+D exits."))
	fmt.Fprintln(s.out)
}

func (s *chatSession) prompt() string {
	if m := s.chat.Model(); m != "" {
		return m + "> "
	}
	return "> "
}

// handle processes one line of input and reports whether to quit.
func (s *chatSession) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	if strings.HasPrefix(input, "/") {
		return s.command(ctx, input)
	}
	s.send(ctx, input)
	return false
}

// send streams one turn, printing each new piece of the reply.
func (s *chatSession) send(ctx context.Context, text string) {
	p := &replyPrinter{w: s.out, label: roleLabel(model.RoleAssistant)}
	_, err := s.chat.Send(ctx, text, p.update)
	p.finish()
	if err != nil {
		printError(s.out, streamclient.DisplayMessage(err))
	}
}

// replyPrinter writes the growth of a cumulative reply.
type replyPrinter struct {
	w       io.Writer
	label   string
	started bool
	printed string
}

func (p *replyPrinter) update(m model.Message) {
	if !p.started {
		fmt.Fprint(p.w, p.label)
		p.started = true
	}
	if strings.HasPrefix(m.Content, p.printed) {
		fmt.Fprint(p.w, m.Content[len(p.printed):])
	} else {
		// The reply was rewritten; start a fresh line.
		fmt.Fprint(p.w, "\n"+m.Content)
	}
	p.printed = m.Content
}

func (p *replyPrinter) finish() {
	if p.started {
		fmt.Fprintln(p.w)
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *chatSession) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h", "/?":
		s.help()

	case "/clear", "/c":
		if err := s.chat.Reset(ctx); err != nil {
			fmt.Fprintln(s.out, WarningStyle.Render("Cleared locally; server: "+streamclient.DisplayMessage(err)))
			return false
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Conversation cleared."))

	case "/model":
		if len(args) == 0 {
			printField(s.out, "Model:", modelOrDefault(s.chat.Model()))
			return false
		}
		s.chat.SetModel(args[0])
		msg := "Model set to " + args[0] + "."
		if s.chat.ConversationID() != "" {
			msg += " It applies from the next conversation (/clear)."
		}
		fmt.Fprintln(s.out, SuccessStyle.Render(msg))

	case "/models":
		models, err := s.client.Models(ctx)
		if err != nil {
			printError(s.out, streamclient.DisplayMessage(err))
			return false
		}
		printModels(s.out, models)

	case "/history":
		fmt.Fprint(s.out, storage.FormatHistoryList(s.history.List()))
		if s.history.Len() == 0 {
			fmt.Fprintln(s.out)
		}

	case "/resume":
		if len(args) == 0 {
			printError(s.out, "usage: /resume <number|id>")
			return false
		}
		if err := s.resume(args[0]); err != nil {
			printError(s.out, err.Error())
		}

	default:
		printError(s.out, fmt.Sprintf("unknown command %s (try /help)", name))
	}
	return false
}

func (s *chatSession) help() {
	cmds := []struct{ name, desc string }{
		{"/help", "Show this help"},
		{"/clear", "Clear the conversation"},
		{"/model [name]", "Show or switch model"},
		{"/models", "List available models"},
		{"/history", "List saved conversations"},
		{"/resume <n|id>", "Continue a saved conversation"},
		{"/quit", "Exit"},
	}
	for _, c := range cmds {
		fmt.Fprintf(s.out, "  %s %s\n", CommandStyle.Render(fmt.Sprintf("%-16s", c.name)), c.desc)
	}
}

// resume loads a saved conversation and prints it.
func (s *chatSession) resume(ref string) error {
	entry, err := findHistoryEntry(s.history, ref)
	if err != nil {
		return err
	}
	s.chat.Resume(entry)
	fmt.Fprintln(s.out, DimStyle.Render("Resumed: "+entry.Title))
	for _, m := range entry.Messages {
		printMessage(s.out, m)
	}
	return nil
}

func modelOrDefault(name string) string {
	if name == "" {
		return "(server default)"
	}
	return name
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

func inputHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

func loadInputHistory(line *liner.State, path string) {
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
}

func saveInputHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
