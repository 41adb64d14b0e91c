// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trahoangdev/mini-chatbot/internal/model"
)

func exchange(question, answer string) []model.Message {
	return []model.Message{
		model.NewMessage(model.RoleUser, question),
		model.NewMessage(model.RoleAssistant, answer),
	}
}

func TestOpenHistory_MissingFile(t *testing.T) {
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.json"), 0)
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
	if h.max != DefaultHistorySize {
		t.Errorf("max = %d, want %d", h.max, DefaultHistorySize)
	}
}

func TestOpenHistory_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	if _, err := OpenHistory(path, 20); err == nil {
		t.Error("expected error for corrupt history file")
	}
}

func TestHistory_RecordCreatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	h, _ := OpenHistory(path, 20)

	if err := h.Record("conv-1", "llama2", exchange("What is Go?", "A language.")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	reopened, err := OpenHistory(path, 20)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	entry, err := reopened.Get("conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Title != "What is Go?" {
		t.Errorf("Title = %q", entry.Title)
	}
	if len(entry.Messages) != 2 || entry.Model != "llama2" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestHistory_RecordUpdatesAndMovesToFront(t *testing.T) {
	h, _ := OpenHistory("", 20)

	h.Record("a", "llama2", exchange("first", "1"))
	h.Record("b", "llama2", exchange("second", "2"))

	before, _ := h.Get("a")
	msgs := append(exchange("first", "1"), exchange("again", "3")...)
	h.Record("a", "mistral", msgs)

	list := h.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b", list[0].ID, list[1].ID)
	}
	if len(list[0].Messages) != 4 || list[0].Model != "mistral" {
		t.Errorf("updated entry = %+v", list[0])
	}
	if !list[0].CreatedAt.Equal(before.CreatedAt) {
		t.Error("CreatedAt should survive updates")
	}
}

func TestHistory_CapDropsOldest(t *testing.T) {
	h, _ := OpenHistory("", 20)

	for i := 0; i < 25; i++ {
		h.Record(fmt.Sprintf("c%02d", i), "llama2", exchange(fmt.Sprintf("q%d", i), "a"))
	}

	list := h.List()
	if len(list) != 20 {
		t.Fatalf("len = %d, want 20", len(list))
	}
	if list[0].ID != "c24" || list[19].ID != "c05" {
		t.Errorf("first=%s last=%s, want c24 and c05", list[0].ID, list[19].ID)
	}
}

func TestHistory_SkipsStreamingPlaceholders(t *testing.T) {
	h, _ := OpenHistory("", 20)
	msgs := []model.Message{model.NewMessage(model.RoleUser, "hi"), model.NewPlaceholder()}

	h.Record("a", "llama2", msgs)

	entry, _ := h.Get("a")
	if len(entry.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(entry.Messages))
	}
}

func TestHistory_RequiresID(t *testing.T) {
	h, _ := OpenHistory("", 20)
	if err := h.Record("", "llama2", nil); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestHistory_DeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	h, _ := OpenHistory(path, 20)
	h.Record("a", "llama2", exchange("q", "a"))
	h.Record("b", "llama2", exchange("q", "a"))

	if err := h.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := h.Delete("a"); err != ErrConversationNotFound {
		t.Errorf("second Delete = %v, want ErrConversationNotFound", err)
	}
	if err := h.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"conversations": []`) {
		t.Errorf("file after clear = %s", data)
	}
}

func TestFormatHistoryList(t *testing.T) {
	if got := FormatHistoryList(nil); got != "No conversations yet." {
		t.Errorf("empty list = %q", got)
	}

	h, _ := OpenHistory("", 20)
	h.Record("0123456789abcdef", "llama2", exchange("Explain goroutines please", "ok"))

	out := FormatHistoryList(h.List())
	for _, want := range []string{"01234567", "Explain goroutines please", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
