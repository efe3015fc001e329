package treestore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. It backs the tests and the default
// development configuration.
type MemoryStore struct {
	mu     sync.RWMutex
	leaves map[string]json.RawMessage
	hub    *hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leaves: make(map[string]json.RawMessage),
		hub:    newHub(),
	}
}

func (s *MemoryStore) Read(ctx context.Context, path string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readPath(ctx, memLeaves{s.leaves}, path)
}

func (s *MemoryStore) Write(ctx context.Context, path string, value any) error {
	s.mu.Lock()
	err := writePath(ctx, memLeaves{s.leaves}, path, value)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.hub.notify(s, path)
	return nil
}

func (s *MemoryStore) Merge(ctx context.Context, path string, partial map[string]any) error {
	s.mu.Lock()
	err := mergePath(ctx, memLeaves{s.leaves}, path, partial)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.hub.notify(s, path)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	err := deletePath(ctx, memLeaves{s.leaves}, path)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.hub.notify(s, path)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	initial, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	id, ch := s.hub.subscribe(path, initial)
	sub := newSubscription(ch, func() { s.hub.unsubscribe(id) })
	bindContext(ctx, sub)
	return sub, nil
}

// memLeaves gives the generic path logic raw access to the leaf map.
// Locking is done by the exported methods.
type memLeaves struct {
	leaves map[string]json.RawMessage
}

func (m memLeaves) getLeaf(_ context.Context, path string) (json.RawMessage, bool, error) {
	raw, ok := m.leaves[path]
	return raw, ok, nil
}

func (m memLeaves) scanLeaves(_ context.Context, prefix string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for path, raw := range m.leaves {
		if strings.HasPrefix(path, prefix) {
			out[strings.TrimPrefix(path, prefix)] = raw
		}
	}
	return out, nil
}

func (m memLeaves) putLeaf(_ context.Context, path string, raw json.RawMessage) error {
	m.leaves[path] = append(json.RawMessage(nil), raw...)
	return nil
}

func (m memLeaves) deleteLeaf(_ context.Context, path string) error {
	delete(m.leaves, path)
	return nil
}

func (m memLeaves) deletePrefix(_ context.Context, prefix string) error {
	for path := range m.leaves {
		if strings.HasPrefix(path, prefix) {
			delete(m.leaves, path)
		}
	}
	return nil
}
