package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"coscribe/internal/crdtdoc"
	"coscribe/internal/models"
	"coscribe/internal/store"
)

// Hub is the registry of active rooms. A room activates lazily on its first
// connection, loading persisted state and running any pending schema
// migration before serving, and retires when the last connection leaves.
type Hub struct {
	store  store.RoomStore
	docs   *crdtdoc.Registry
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates a hub backed by the given store and document registry.
func NewHub(st store.RoomStore, docs *crdtdoc.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		store:  st,
		docs:   docs,
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// Attach activates the room if needed and subscribes the connection.
func (h *Hub) Attach(ctx context.Context, roomID string, c Conn) (*Room, error) {
	for {
		r, err := h.room(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if r.Attach(c) {
			return r, nil
		}
		// The room retired between lookup and attach; drop the stale
		// entry and activate a fresh one.
		h.mu.Lock()
		if h.rooms[roomID] == r {
			delete(h.rooms, roomID)
		}
		h.mu.Unlock()
	}
}

// room returns the active room, activating it from the store when absent.
func (h *Hub) room(ctx context.Context, roomID string) (*Room, error) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		h.mu.Unlock()
		return r, nil
	}
	h.mu.Unlock()

	state, err := h.loadState(ctx, roomID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		// Lost the activation race; the winner's state is authoritative.
		return r, nil
	}
	r := newRoom(roomID, state, h.store, h.docs, h.logger, h.retire)
	h.rooms[roomID] = r
	r.start()
	h.logger.Info("room activated", "room_id", roomID,
		"sections", len(state.Sections), "phase", state.Meta.Phase)
	return r, nil
}

// loadState fetches the last persisted state, or initializes a new room.
// The store runs the migration pipeline and persists upgraded shapes
// before returning, so state here is always current-schema.
func (h *Hub) loadState(ctx context.Context, roomID string) (*models.RoomState, error) {
	state, err := h.store.LoadRoomState(ctx, roomID)
	if errors.Is(err, models.ErrNotFound) {
		return models.NewRoomState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("activate room %s: %w", roomID, err)
	}
	return state, nil
}

// retire unregisters a room instance. The pointer comparison matters: a
// fresh instance may already have replaced a slow-to-retire one.
func (h *Hub) retire(r *Room) {
	h.mu.Lock()
	if h.rooms[r.ID] == r {
		delete(h.rooms, r.ID)
	}
	h.mu.Unlock()
}

// StateSnapshot returns the room's current state without keeping it
// active: a live room answers from its actor, an inactive one straight
// from the store.
func (h *Hub) StateSnapshot(ctx context.Context, roomID string) (*models.RoomState, error) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if ok {
		if state, err := r.Snapshot(ctx); err == nil {
			return state, nil
		}
		// Retired mid-request; fall through to the store.
	}
	return h.store.LoadRoomState(ctx, roomID)
}
