package settings

import (
	"context"
	"sync"
)

// MemoryHub is shared in-process storage. Each Client is a separate view, so
// a write through one client is remote to the others, like two processes
// sharing one Redis hash.
type MemoryHub struct {
	mu      sync.Mutex
	data    map[string]string
	subs    map[int]memorySub
	nextSub int
	nextID  int
}

type memorySub struct {
	client int
	fn     func(Change)
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{data: map[string]string{}, subs: map[int]memorySub{}}
}

// Client returns a new view of the hub.
func (h *MemoryHub) Client() *MemoryStore {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &MemoryStore{hub: h, id: h.nextID}
}

// MemoryStore is one client of a MemoryHub.
type MemoryStore struct {
	hub *MemoryHub
	id  int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore is a store on a private hub.
func NewMemoryStore() *MemoryStore {
	return NewMemoryHub().Client()
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	v, ok := s.hub.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.write(key, value, true)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.write(key, "", false)
	return nil
}

// write applies the change under the lock and notifies outside it, so
// callbacks may write back.
func (s *MemoryStore) write(key, value string, present bool) {
	h := s.hub
	h.mu.Lock()
	old := h.data[key]
	if present {
		h.data[key] = value
	} else {
		delete(h.data, key)
	}
	subs := make([]memorySub, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.fn(Change{Key: key, Old: old, New: value, Present: present, Remote: sub.client != s.id})
	}
}

func (s *MemoryStore) Subscribe(ctx context.Context, fn func(Change)) error {
	h := s.hub
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = memorySub{client: s.id, fn: fn}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}()
	return nil
}
