// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/util"
)

// DefaultHistorySize is how many conversations the client remembers.
const DefaultHistorySize = 20

// =============================================================================
// HISTORY ENTRY
// =============================================================================

// HistoryEntry is one conversation in the client's local list.
type HistoryEntry struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Model     string          `json:"model"`
	Messages  []model.Message `json:"messages"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Preview returns the first user message, shortened for listings.
func (e HistoryEntry) Preview() string {
	for _, m := range e.Messages {
		if m.Role == model.RoleUser && m.Content != "" {
			return util.Preview(m.Content, 60)
		}
	}
	return ""
}

type historyFile struct {
	Conversations []HistoryEntry `json:"conversations"`
}

// =============================================================================
// HISTORY
// =============================================================================

// History is the client-side list of recent conversations, most recent
// first, capped at a fixed size and saved to a JSON file after every change.
// It is independent of the relay's store; nothing reconciles the two.
type History struct {
	mu      sync.Mutex
	path    string
	max     int
	entries []HistoryEntry
}

// OpenHistory loads the list at path. A missing file yields an empty list.
// An empty path keeps the list in memory only.
func OpenHistory(path string, max int) (*History, error) {
	if max <= 0 {
		max = DefaultHistorySize
	}
	h := &History{path: path, max: max}
	if path == "" {
		return h, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	h.entries = f.Conversations
	if len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
	return h, nil
}

// Record creates or updates the entry for id with the given messages and
// moves it to the front. Streaming placeholders are not recorded.
func (h *History) Record(id, modelName string, messages []model.Message) error {
	if id == "" {
		return errors.New("history: conversation id is required")
	}

	final := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if !m.Streaming {
			final = append(final, m)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	entry := HistoryEntry{ID: id, CreatedAt: now}
	if i := h.indexOf(id); i >= 0 {
		entry = h.entries[i]
		h.entries = slices.Delete(h.entries, i, i+1)
	}
	entry.Model = modelName
	entry.Messages = final
	entry.UpdatedAt = now
	entry.Title = generateTitle(final)

	h.entries = slices.Insert(h.entries, 0, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
	return h.save()
}

// List returns the entries, most recent first.
func (h *History) List() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, len(h.entries))
	for i, e := range h.entries {
		e.Messages = slices.Clone(e.Messages)
		out[i] = e
	}
	return out
}

// Get returns the entry for id.
func (h *History) Get(id string) (HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(id)
	if i < 0 {
		return HistoryEntry{}, ErrConversationNotFound
	}
	e := h.entries[i]
	e.Messages = slices.Clone(e.Messages)
	return e, nil
}

// Delete removes id from the list.
func (h *History) Delete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(id)
	if i < 0 {
		return ErrConversationNotFound
	}
	h.entries = slices.Delete(h.entries, i, i+1)
	return h.save()
}

// Clear empties the list.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = nil
	return h.save()
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) indexOf(id string) int {
	return slices.IndexFunc(h.entries, func(e HistoryEntry) bool { return e.ID == id })
}

// save must be called with h.mu held.
func (h *History) save() error {
	if h.path == "" {
		return nil
	}
	entries := h.entries
	if entries == nil {
		entries = []HistoryEntry{}
	}
	data, err := json.MarshalIndent(historyFile{Conversations: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return util.AtomicWriteFile(h.path, data, 0600)
}

// generateTitle creates a title from the first user message.
func generateTitle(messages []model.Message) string {
	for _, m := range messages {
		if m.Role == model.RoleUser && m.Content != "" {
			return util.Preview(m.Content, 50)
		}
	}
	return "New conversation"
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatHistoryList renders entries as a fixed-width table.
func FormatHistoryList(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return "No conversations yet."
	}

	var sb strings.Builder
	sb.WriteString(formatPadded("#", 4) + formatPadded("ID", 10) + formatPadded("Updated", 18) + formatPadded("Msgs", 6) + "Title\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for i, e := range entries {
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		sb.WriteString(formatPadded(strconv.Itoa(i+1), 4) +
			formatPadded(id, 10) +
			formatPadded(e.UpdatedAt.Local().Format("2006-01-02 15:04"), 18) +
			formatPadded(strconv.Itoa(len(e.Messages)), 6) +
			util.TruncateRunes(e.Title, 34) + "\n")
	}
	return sb.String()
}

// formatPadded pads s with spaces to width runes.
func formatPadded(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-n)
}
