package models

import (
	"time"
)

// Section kinds. Intent blocks form the outline skeleton drafted during
// setup; writing blocks carry the prose worked on during the writing phase.
const (
	SectionKindIntent  = "intent"
	SectionKindWriting = "writing"
)

// Room phases. Transitions are server-authoritative.
const (
	PhaseSetup   = "setup"
	PhaseWriting = "writing"
)

// Dependency directions.
const (
	DirectionDirected      = "directed"
	DirectionBidirectional = "bidirectional"
)

// SectionNode is one node of the outline tree. ParentID nil means root.
// Position orders siblings sharing a parent; it is not globally unique.
// Level caches the depth derived from ancestry.
type SectionNode struct {
	ID                   string  `json:"id"`
	Kind                 string  `json:"kind"`
	Content              string  `json:"content"`
	ParentID             *string `json:"parentId"`
	Position             int     `json:"position"`
	Level                int     `json:"level"`
	AssigneeID           string  `json:"assigneeId,omitempty"`
	AssigneeName         string  `json:"assigneeName,omitempty"`
	MergeRequestSourceID string  `json:"mergeRequestSourceId,omitempty"`
}

// DependencyEdge links two sections. FromSectionID and ToSectionID must
// reference existing sections and must differ.
type DependencyEdge struct {
	ID            string `json:"id"`
	FromSectionID string `json:"fromSectionId"`
	ToSectionID   string `json:"toSectionId"`
	Label         string `json:"label"`
	Direction     string `json:"direction"`
	Confirmed     bool   `json:"confirmed"`
}

// RoomMeta holds room-wide mode and the phase transition audit trail.
// BaselineVersion only increases.
type RoomMeta struct {
	Phase           string     `json:"phase"`
	BaselineVersion int        `json:"baselineVersion"`
	PhaseChangedBy  string     `json:"phaseChangedBy,omitempty"`
	PhaseChangedAt  *time.Time `json:"phaseChangedAt,omitempty"`
}

// RoomState is the authoritative structural state of one room. It is owned
// exclusively by the room coordinator; everything else sees copies.
type RoomState struct {
	Sections     []SectionNode    `json:"sections"`
	Dependencies []DependencyEdge `json:"dependencies"`
	Meta         RoomMeta         `json:"meta"`
}

// NewRoomState returns the state a freshly activated room starts from.
func NewRoomState() *RoomState {
	return &RoomState{
		Sections:     []SectionNode{},
		Dependencies: []DependencyEdge{},
		Meta:         RoomMeta{Phase: PhaseSetup, BaselineVersion: 0},
	}
}

// Section returns a pointer into Sections for the given id, or nil.
func (s *RoomState) Section(id string) *SectionNode {
	for i := range s.Sections {
		if s.Sections[i].ID == id {
			return &s.Sections[i]
		}
	}
	return nil
}

// Dependency returns a pointer into Dependencies for the given id, or nil.
func (s *RoomState) Dependency(id string) *DependencyEdge {
	for i := range s.Dependencies {
		if s.Dependencies[i].ID == id {
			return &s.Dependencies[i]
		}
	}
	return nil
}

// HasAncestor reports whether ancestorID appears on the parent chain of the
// section with the given id. Walks are bounded by the section count so a
// corrupted cycle cannot hang the caller.
func (s *RoomState) HasAncestor(id, ancestorID string) bool {
	node := s.Section(id)
	for steps := 0; node != nil && node.ParentID != nil && steps <= len(s.Sections); steps++ {
		if *node.ParentID == ancestorID {
			return true
		}
		node = s.Section(*node.ParentID)
	}
	return false
}

// Depth returns the ancestry depth of a section (root = 0).
func (s *RoomState) Depth(id string) int {
	depth := 0
	node := s.Section(id)
	for steps := 0; node != nil && node.ParentID != nil && steps <= len(s.Sections); steps++ {
		depth++
		node = s.Section(*node.ParentID)
	}
	return depth
}

// Clone returns a deep copy safe to hand outside the coordinator.
func (s *RoomState) Clone() *RoomState {
	out := &RoomState{
		Sections:     make([]SectionNode, len(s.Sections)),
		Dependencies: make([]DependencyEdge, len(s.Dependencies)),
		Meta:         s.Meta,
	}
	copy(out.Sections, s.Sections)
	copy(out.Dependencies, s.Dependencies)
	for i := range out.Sections {
		if p := s.Sections[i].ParentID; p != nil {
			v := *p
			out.Sections[i].ParentID = &v
		}
	}
	if t := s.Meta.PhaseChangedAt; t != nil {
		v := *t
		out.Meta.PhaseChangedAt = &v
	}
	return out
}
