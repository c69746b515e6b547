// Package store persists room state and document snapshots. The room
// coordinator writes state here before broadcasting any applied command;
// a broadcast that outruns the durable write could leave clients converged
// on a state that is lost on crash.
package store

import (
	"context"

	"coscribe/internal/models"
)

// RoomStore is the durable storage contract for rooms. Absent entries are
// reported as models.ErrNotFound.
type RoomStore interface {
	// LoadRoomState returns the last persisted state of a room, running
	// any pending schema migration on the stored shape.
	LoadRoomState(ctx context.Context, roomID string) (*models.RoomState, error)

	// SaveRoomState persists the full authoritative state of a room.
	SaveRoomState(ctx context.Context, roomID string, state *models.RoomState) error

	// SaveDocSnapshot persists a serialized CRDT snapshot for a section.
	SaveDocSnapshot(ctx context.Context, roomID, sectionID string, snapshot []byte) error

	// LoadDocSnapshot returns a section's persisted CRDT snapshot.
	LoadDocSnapshot(ctx context.Context, roomID, sectionID string) ([]byte, error)

	// DeleteDocSnapshot removes a section's persisted snapshot.
	DeleteDocSnapshot(ctx context.Context, roomID, sectionID string) error

	Close() error
}
