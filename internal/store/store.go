package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrConflict = errors.New("room version conflict")
)

// ConflictError reports that the stored room is no longer at the version a
// write was computed from.
type ConflictError struct {
	Code     string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("room %s: expected version %d, stored %d", e.Code, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Store persists rooms with optimistic concurrency on Room.Version.
type Store interface {
	LoadRoom(ctx context.Context, code string) (engine.Room, error)
	// SaveRoom writes room if the stored copy is still at expectedVersion.
	// An expectedVersion of 0 creates the room.
	SaveRoom(ctx context.Context, room engine.Room, expectedVersion int) error
	DeleteRoom(ctx context.Context, id string) error
	// ActiveCodes lists the codes of rooms whose game has not ended.
	ActiveCodes(ctx context.Context) ([]string, error)
}
