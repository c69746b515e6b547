package models

import (
	"strings"
	"testing"

	"coscribe/internal/config"
)

func TestSectionNodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    SectionNode
		wantErr bool
	}{
		{"valid", SectionNode{ID: "s1", Content: "fine"}, false},
		{"empty content ok", SectionNode{ID: "s1"}, false},
		{"missing id", SectionNode{Content: "x"}, true},
		{"content at limit", SectionNode{ID: "s1", Content: strings.Repeat("a", config.MaxSectionContentLength)}, false},
		{"content over limit", SectionNode{ID: "s1", Content: strings.Repeat("a", config.MaxSectionContentLength+1)}, true},
		{"negative position", SectionNode{ID: "s1", Position: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDependencyEdgeValidate(t *testing.T) {
	tests := []struct {
		name    string
		edge    DependencyEdge
		wantErr bool
	}{
		{"valid directed", DependencyEdge{ID: "d1", FromSectionID: "a", ToSectionID: "b", Direction: DirectionDirected}, false},
		{"valid bidirectional", DependencyEdge{ID: "d1", FromSectionID: "a", ToSectionID: "b", Direction: DirectionBidirectional}, false},
		{"self edge", DependencyEdge{ID: "d1", FromSectionID: "a", ToSectionID: "a", Direction: DirectionDirected}, true},
		{"bad direction", DependencyEdge{ID: "d1", FromSectionID: "a", ToSectionID: "b", Direction: "sideways"}, true},
		{"missing endpoints", DependencyEdge{ID: "d1", Direction: DirectionDirected}, true},
		{"label over limit", DependencyEdge{
			ID: "d1", FromSectionID: "a", ToSectionID: "b", Direction: DirectionDirected,
			Label: strings.Repeat("l", config.MaxDependencyLabelLength+1),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.edge.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoomMetaCommandValidate(t *testing.T) {
	if err := (RoomMetaCommand{Meta: RoomMeta{Phase: PhaseWriting}}).Validate(); err != nil {
		t.Errorf("writing phase should validate: %v", err)
	}
	if err := (RoomMetaCommand{Meta: RoomMeta{Phase: "review"}}).Validate(); err == nil {
		t.Error("unknown phase should fail validation")
	}
	if err := (RoomMetaCommand{}).Validate(); err == nil {
		t.Error("empty phase should fail validation")
	}
}

func TestIdentifyCommandValidate(t *testing.T) {
	if err := (IdentifyCommand{UserID: "u1", UserName: "Alex"}).Validate(); err != nil {
		t.Errorf("valid identify should pass: %v", err)
	}
	if err := (IdentifyCommand{UserName: "Alex"}).Validate(); err == nil {
		t.Error("missing user id should fail")
	}
}

func TestHasAncestorAndDepth(t *testing.T) {
	root := "root"
	mid := "mid"
	state := &RoomState{Sections: []SectionNode{
		{ID: root},
		{ID: mid, ParentID: &root},
		{ID: "leaf", ParentID: &mid},
	}}

	if !state.HasAncestor("leaf", root) {
		t.Error("leaf should have root as ancestor")
	}
	if state.HasAncestor(root, "leaf") {
		t.Error("root must not have leaf as ancestor")
	}
	if got := state.Depth("leaf"); got != 2 {
		t.Errorf("Depth(leaf) = %d, want 2", got)
	}
	if got := state.Depth(root); got != 0 {
		t.Errorf("Depth(root) = %d, want 0", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	root := "root"
	state := &RoomState{Sections: []SectionNode{
		{ID: root},
		{ID: "child", ParentID: &root},
	}}

	clone := state.Clone()
	*clone.Sections[1].ParentID = "elsewhere"
	clone.Sections[0].Content = "changed"

	if *state.Sections[1].ParentID != root {
		t.Error("mutating the clone's ParentID leaked into the original")
	}
	if state.Sections[0].Content != "" {
		t.Error("mutating the clone's content leaked into the original")
	}
}
