package room

import (
	"sort"
	"time"

	"coscribe/internal/models"
)

// Tracker holds the ephemeral roster of connected users for one room.
// It is owned by the room actor and therefore needs no locking. Nothing
// here is ever persisted.
type Tracker struct {
	users map[string]models.OnlineUser
}

// NewTracker returns an empty roster.
func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]models.OnlineUser)}
}

// Identify records (or refreshes) the user behind a connection.
func (t *Tracker) Identify(connID, userID, userName string) {
	if existing, ok := t.users[connID]; ok {
		existing.UserID = userID
		existing.UserName = userName
		t.users[connID] = existing
		return
	}
	t.users[connID] = models.OnlineUser{
		ConnectionID: connID,
		UserID:       userID,
		UserName:     userName,
		JoinedAt:     time.Now().UTC(),
	}
}

// Remove drops a connection from the roster, reporting whether it was
// present.
func (t *Tracker) Remove(connID string) bool {
	_, ok := t.users[connID]
	delete(t.users, connID)
	return ok
}

// User returns the identity attached to a connection, if any.
func (t *Tracker) User(connID string) (models.OnlineUser, bool) {
	u, ok := t.users[connID]
	return u, ok
}

// Roster returns the current users ordered by join time, oldest first.
func (t *Tracker) Roster() []models.OnlineUser {
	out := make([]models.OnlineUser, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
