package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"coscribe/internal/config"
)

// Wire command types carried in the JSON envelope `{"type": ..., ...}` on
// the room channel. Unknown types are relayed verbatim to the other
// connections (compatibility behavior, see the room coordinator).
const (
	TypeIdentify           = "identify"
	TypeAddIntentBlock     = "add_intent_block"
	TypeUpdateIntentBlock  = "update_intent_block"
	TypeDeleteIntentBlock  = "delete_intent_block"
	TypeAddWritingBlock    = "add_writing_block"
	TypeUpdateWritingBlock = "update_writing_block"
	TypeDeleteWritingBlock = "delete_writing_block"
	TypeUpdateRoomMeta     = "update_room_meta"
	TypeAddDependency      = "add_dependency"
	TypeUpdateDependency   = "update_dependency"
	TypeDeleteDependency   = "delete_dependency"

	// TypeOnlineUsers is server-initiated only.
	TypeOnlineUsers = "online_users"
)

// Envelope is the minimal decode used to route an inbound frame.
type Envelope struct {
	Type string `json:"type"`
}

// BlockCommand adds or updates a section. The block's Kind is forced by the
// command type on the server side, never trusted from the payload.
type BlockCommand struct {
	Type  string      `json:"type"`
	Block SectionNode `json:"block"`
}

// DeleteBlockCommand removes a section by id.
type DeleteBlockCommand struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DependencyCommand adds or updates a dependency edge.
type DependencyCommand struct {
	Type       string         `json:"type"`
	Dependency DependencyEdge `json:"dependency"`
}

// DeleteDependencyCommand removes a dependency edge by id.
type DeleteDependencyCommand struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RoomMetaCommand requests a phase transition. Only Phase is honored from
// the client; baseline version and audit fields are server-assigned.
type RoomMetaCommand struct {
	Type string   `json:"type"`
	Meta RoomMeta `json:"meta"`
}

// IdentifyCommand attaches user identity to a connection for presence.
type IdentifyCommand struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// OnlineUsersMessage is the roster broadcast sent on every join and leave.
type OnlineUsersMessage struct {
	Type  string       `json:"type"`
	Users []OnlineUser `json:"users"`
}

// Validate checks the structural fields of a section payload.
func (n SectionNode) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required, validation.Length(1, config.MaxIDLength)),
		validation.Field(&n.Content, validation.Length(0, config.MaxSectionContentLength)),
		validation.Field(&n.Position, validation.Min(0)),
		validation.Field(&n.AssigneeID, validation.Length(0, config.MaxIDLength)),
		validation.Field(&n.AssigneeName, validation.Length(0, config.MaxUserNameLength)),
		validation.Field(&n.MergeRequestSourceID, validation.Length(0, config.MaxIDLength)),
	)
}

// Validate checks a dependency payload. Endpoint existence is checked by
// the coordinator against room state, not here.
func (e DependencyEdge) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, validation.Length(1, config.MaxIDLength)),
		validation.Field(&e.FromSectionID, validation.Required, validation.Length(1, config.MaxIDLength)),
		validation.Field(&e.ToSectionID,
			validation.Required,
			validation.Length(1, config.MaxIDLength),
			validation.By(func(interface{}) error {
				if e.FromSectionID == e.ToSectionID {
					return ErrValidation
				}
				return nil
			}),
		),
		validation.Field(&e.Direction,
			validation.Required,
			validation.In(DirectionDirected, DirectionBidirectional),
		),
		validation.Field(&e.Label, validation.Length(0, config.MaxDependencyLabelLength)),
	)
}

// Validate checks an identify payload.
func (c IdentifyCommand) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.UserID, validation.Required, validation.Length(1, config.MaxIDLength)),
		validation.Field(&c.UserName, validation.Length(0, config.MaxUserNameLength)),
	)
}

// Validate checks a phase transition payload.
func (c RoomMetaCommand) Validate() error {
	return validation.ValidateStruct(&c.Meta,
		validation.Field(&c.Meta.Phase, validation.Required, validation.In(PhaseSetup, PhaseWriting)),
	)
}
