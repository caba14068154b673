package store

import (
	"context"
	"slices"
	"sync"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

// Memory is a process-local Store. Rooms are cloned on the way in and out.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]engine.Room // by code
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]engine.Room)}
}

func (m *Memory) LoadRoom(_ context.Context, code string) (engine.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[code]
	if !ok {
		return engine.Room{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) SaveRoom(_ context.Context, room engine.Room, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.rooms[room.Code]
	switch {
	case !ok && expectedVersion != 0:
		return ErrNotFound
	case ok && cur.Version != expectedVersion:
		return &ConflictError{Code: room.Code, Expected: expectedVersion, Actual: cur.Version}
	case ok && cur.ID != room.ID:
		return &ConflictError{Code: room.Code, Expected: expectedVersion, Actual: cur.Version}
	}
	m.rooms[room.Code] = room.Clone()
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for code, r := range m.rooms {
		if r.ID == id {
			delete(m.rooms, code)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ActiveCodes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var codes []string
	for code, r := range m.rooms {
		if r.Phase != engine.PhaseGameOver {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}
