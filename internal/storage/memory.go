// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"container/list"
	"context"
	"sync"

	"github.com/trahoangdev/mini-chatbot/internal/model"
)

// MemoryStore is an in-process ConversationStore. Insertion order is kept in
// a linked list so eviction is O(1).
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // *model.Conversation, oldest at front
	onEvict  EvictFunc
}

// NewMemoryStore creates a MemoryStore holding at most capacity
// conversations. onEvict may be nil.
func NewMemoryStore(capacity int, onEvict EvictFunc) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

// Get returns a copy of the stored conversation.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return el.Value.(*model.Conversation).Clone(), nil
}

// Put stores a copy of conv.
func (s *MemoryStore) Put(_ context.Context, conv *model.Conversation) error {
	stored := conv.Clone()

	s.mu.Lock()
	if el, ok := s.items[conv.ID]; ok {
		el.Value = stored
		s.mu.Unlock()
		return nil
	}

	s.items[conv.ID] = s.order.PushBack(stored)

	var evicted []string
	for s.order.Len() > s.capacity {
		front := s.order.Front()
		id := front.Value.(*model.Conversation).ID
		s.order.Remove(front)
		delete(s.items, id)
		evicted = append(evicted, id)
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, id := range evicted {
			s.onEvict(id)
		}
	}
	return nil
}

// Delete removes id if present.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[id]; ok {
		s.order.Remove(el)
		delete(s.items, id)
	}
	return nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len(), nil
}

// IDs returns stored ids oldest first.
func (s *MemoryStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*model.Conversation).ID)
	}
	return ids
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
