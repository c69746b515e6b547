package models

import "time"

// OnlineUser is one entry of the ephemeral presence roster. It lives only
// as long as its connection and is never persisted.
type OnlineUser struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	JoinedAt     time.Time `json:"joinedAt"`
}
