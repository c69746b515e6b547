package room

import (
	"encoding/json"
	"time"

	"coscribe/internal/models"
)

// apply mutates room state for one command. It returns the frame to
// broadcast, whether the originator gets an echo, an optional post-persist
// side effect, and whether anything was applied at all.
//
// Referential misses (unknown section, missing parent, duplicate id) are
// silent no-ops: interrupting someone's typing over a stale reference is
// worse than skipping the message.
func (r *Room) apply(connID, typ string, data []byte) (outbound []byte, echoAll bool, after func(), ok bool) {
	switch typ {
	case models.TypeAddIntentBlock:
		return data, false, nil, r.applyAddBlock(data, models.SectionKindIntent)
	case models.TypeAddWritingBlock:
		return data, false, nil, r.applyAddBlock(data, models.SectionKindWriting)
	case models.TypeUpdateIntentBlock, models.TypeUpdateWritingBlock:
		after, applied := r.applyUpdateBlock(data)
		return data, false, after, applied
	case models.TypeDeleteIntentBlock, models.TypeDeleteWritingBlock:
		after, applied := r.applyDeleteBlock(data)
		return data, false, after, applied
	case models.TypeAddDependency:
		return data, false, nil, r.applyAddDependency(data)
	case models.TypeUpdateDependency:
		return data, false, nil, r.applyUpdateDependency(data)
	case models.TypeDeleteDependency:
		return data, false, nil, r.applyDeleteDependency(data)
	case models.TypeUpdateRoomMeta:
		out, applied := r.applyRoomMeta(connID, data)
		return out, true, nil, applied
	}
	return nil, false, nil, false
}

func (r *Room) applyAddBlock(data []byte, kind string) bool {
	var cmd models.BlockCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return false
	}
	block := cmd.Block
	block.Kind = kind
	if err := block.Validate(); err != nil {
		r.logger.Debug("dropping invalid block", "error", err)
		return false
	}
	if r.state.Section(block.ID) != nil {
		return false
	}
	if block.ParentID != nil && r.state.Section(*block.ParentID) == nil {
		return false
	}
	r.state.Sections = append(r.state.Sections, block)
	r.recomputeLevels()
	return true
}

func (r *Room) applyUpdateBlock(data []byte) (func(), bool) {
	var cmd models.BlockCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, false
	}
	if err := cmd.Block.Validate(); err != nil {
		r.logger.Debug("dropping invalid block", "error", err)
		return nil, false
	}
	node := r.state.Section(cmd.Block.ID)
	if node == nil {
		return nil, false
	}

	if pid := cmd.Block.ParentID; pid != nil {
		if *pid == node.ID || r.state.Section(*pid) == nil {
			return nil, false
		}
		// Re-parenting under a descendant would cycle the tree.
		if r.state.HasAncestor(*pid, node.ID) {
			return nil, false
		}
	}

	prevMergeSource := node.MergeRequestSourceID
	node.Content = cmd.Block.Content
	node.ParentID = cmd.Block.ParentID
	node.Position = cmd.Block.Position
	node.AssigneeID = cmd.Block.AssigneeID
	node.AssigneeName = cmd.Block.AssigneeName
	node.MergeRequestSourceID = cmd.Block.MergeRequestSourceID
	r.recomputeLevels()

	var after func()
	if src := node.MergeRequestSourceID; src != "" && src != prevMergeSource {
		sectionID := node.ID
		after = func() { go r.runMerge(sectionID, src) }
	}
	return after, true
}

func (r *Room) applyDeleteBlock(data []byte) (func(), bool) {
	var cmd models.DeleteBlockCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.ID == "" {
		return nil, false
	}
	node := r.state.Section(cmd.ID)
	if node == nil {
		return nil, false
	}
	parentID := node.ParentID

	sections := r.state.Sections[:0]
	for _, s := range r.state.Sections {
		if s.ID == cmd.ID {
			continue
		}
		// Orphaned children splice up to the deleted node's parent so
		// every surviving ParentID still resolves.
		if s.ParentID != nil && *s.ParentID == cmd.ID {
			s.ParentID = parentID
		}
		sections = append(sections, s)
	}
	r.state.Sections = sections

	// Edges referencing the deleted section go in the same update.
	deps := r.state.Dependencies[:0]
	for _, d := range r.state.Dependencies {
		if d.FromSectionID == cmd.ID || d.ToSectionID == cmd.ID {
			continue
		}
		deps = append(deps, d)
	}
	r.state.Dependencies = deps
	r.recomputeLevels()

	roomID, sectionID := r.ID, cmd.ID
	after := func() {
		ctx, cancel := contextWithPersistTimeout()
		defer cancel()
		r.docs.Discard(ctx, roomID, sectionID)
	}
	return after, true
}

func (r *Room) applyAddDependency(data []byte) bool {
	var cmd models.DependencyCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return false
	}
	dep := cmd.Dependency
	if err := dep.Validate(); err != nil {
		r.logger.Debug("dropping invalid dependency", "error", err)
		return false
	}
	if r.state.Dependency(dep.ID) != nil {
		return false
	}
	if r.state.Section(dep.FromSectionID) == nil || r.state.Section(dep.ToSectionID) == nil {
		return false
	}
	r.state.Dependencies = append(r.state.Dependencies, dep)
	return true
}

func (r *Room) applyUpdateDependency(data []byte) bool {
	var cmd models.DependencyCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return false
	}
	dep := cmd.Dependency
	if err := dep.Validate(); err != nil {
		r.logger.Debug("dropping invalid dependency", "error", err)
		return false
	}
	existing := r.state.Dependency(dep.ID)
	if existing == nil {
		return false
	}
	if r.state.Section(dep.FromSectionID) == nil || r.state.Section(dep.ToSectionID) == nil {
		return false
	}
	*existing = dep
	return true
}

func (r *Room) applyDeleteDependency(data []byte) bool {
	var cmd models.DeleteDependencyCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.ID == "" {
		return false
	}
	deps := r.state.Dependencies[:0]
	found := false
	for _, d := range r.state.Dependencies {
		if d.ID == cmd.ID {
			found = true
			continue
		}
		deps = append(deps, d)
	}
	r.state.Dependencies = deps
	return found
}

// applyRoomMeta handles phase transitions. The server's value is the
// authoritative one, so the outbound frame is rebuilt from state rather
// than relayed, and it echoes to the originator as well: every client,
// including the one that triggered the transition, converges on what the
// server decided, not on an optimistic local copy.
func (r *Room) applyRoomMeta(connID string, data []byte) ([]byte, bool) {
	var cmd models.RoomMetaCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, false
	}
	if err := cmd.Validate(); err != nil {
		r.logger.Debug("dropping invalid room meta", "error", err)
		return nil, false
	}

	if cmd.Meta.Phase != r.state.Meta.Phase {
		if cmd.Meta.Phase == models.PhaseWriting {
			r.state.Meta.BaselineVersion++
		}
		now := time.Now().UTC()
		r.state.Meta.Phase = cmd.Meta.Phase
		r.state.Meta.PhaseChangedAt = &now
		r.state.Meta.PhaseChangedBy = connID
		if u, ok := r.presence.User(connID); ok && u.UserID != "" {
			r.state.Meta.PhaseChangedBy = u.UserID
		}
	}

	out, err := json.Marshal(models.RoomMetaCommand{
		Type: models.TypeUpdateRoomMeta,
		Meta: r.state.Meta,
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// recomputeLevels refreshes every section's cached depth. Trees here are
// small; recomputing them all keeps the re-parent and splice paths simple.
func (r *Room) recomputeLevels() {
	for i := range r.state.Sections {
		r.state.Sections[i].Level = r.state.Depth(r.state.Sections[i].ID)
	}
}
