package repository

import (
	"bytes"
	"context"
	"sync"
)

// MemoryProvider keeps every room's keys in process memory.
type MemoryProvider struct {
	mu    sync.RWMutex
	rooms map[string]map[string][]byte
}

// NewMemoryProvider returns an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{rooms: make(map[string]map[string][]byte)}
}

func (p *MemoryProvider) ForRoom(roomID string) Store {
	return &memoryStore{p: p, roomID: roomID}
}

func (p *MemoryProvider) Name() string                 { return "memory" }
func (p *MemoryProvider) Ping(_ context.Context) error { return nil }
func (p *MemoryProvider) Close() error                 { return nil }

type memoryStore struct {
	p      *MemoryProvider
	roomID string
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	v, ok := s.p.rooms[s.roomID][key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *memoryStore) Put(_ context.Context, key string, value []byte) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	room, ok := s.p.rooms[s.roomID]
	if !ok {
		room = make(map[string][]byte)
		s.p.rooms[s.roomID] = room
	}
	room[key] = bytes.Clone(value)
	return nil
}
