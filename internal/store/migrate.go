package store

import (
	"encoding/json"
	"fmt"

	"coscribe/internal/models"
)

// CurrentSchemaVersion is the version new writes are stamped with.
const CurrentSchemaVersion = 1

// storedRoom is the persisted envelope around room state. Version 0 rooms
// predate the envelope: the blob is the bare state object, and dependency
// edges carry a legacy `type` string instead of `label`/`direction`.
type storedRoom struct {
	SchemaVersion int             `json:"schemaVersion"`
	State         json.RawMessage `json:"state"`
}

// EncodeRoomState wraps state in the current envelope.
func EncodeRoomState(state *models.RoomState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode room state: %w", err)
	}
	data, err := json.Marshal(storedRoom{SchemaVersion: CurrentSchemaVersion, State: raw})
	if err != nil {
		return nil, fmt.Errorf("encode room envelope: %w", err)
	}
	return data, nil
}

// DecodeRoomState parses a persisted blob, upgrading legacy shapes through
// the migration pipeline. The second return value reports whether any
// migration ran; callers persist the upgraded shape back before serving.
func DecodeRoomState(data []byte) (*models.RoomState, bool, error) {
	var env storedRoom
	raw := json.RawMessage(data)
	version := 0
	if err := json.Unmarshal(data, &env); err == nil && env.SchemaVersion > 0 {
		version = env.SchemaVersion
		raw = env.State
	}
	if version > CurrentSchemaVersion {
		return nil, false, fmt.Errorf("room schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	migrated := false
	for v := version; v < CurrentSchemaVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			return nil, false, fmt.Errorf("no migration from schema version %d", v)
		}
		upgraded, err := step(raw)
		if err != nil {
			return nil, false, fmt.Errorf("migrate room schema v%d: %w", v, err)
		}
		raw = upgraded
		migrated = true
	}

	var state models.RoomState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("decode room state: %w", err)
	}
	if state.Sections == nil {
		state.Sections = []models.SectionNode{}
	}
	if state.Dependencies == nil {
		state.Dependencies = []models.DependencyEdge{}
	}
	if state.Meta.Phase == "" {
		state.Meta.Phase = models.PhaseSetup
	}
	return &state, migrated, nil
}

// migrations maps a schema version to the step that upgrades it one
// version. Steps are run in sequence at room activation, never scattered
// through mutation handlers.
var migrations = map[int]func(json.RawMessage) (json.RawMessage, error){
	0: migrateV0DependencyType,
}

// migrateV0DependencyType rewrites legacy dependency edges. V0 stored a
// single `type` string per edge; `related` edges become bidirectional with
// an empty label, anything else becomes a directed edge labeled with the
// old type value.
func migrateV0DependencyType(raw json.RawMessage) (json.RawMessage, error) {
	var state struct {
		Sections     json.RawMessage `json:"sections"`
		Dependencies []struct {
			ID            string `json:"id"`
			FromSectionID string `json:"fromSectionId"`
			ToSectionID   string `json:"toSectionId"`
			Type          string `json:"type"`
			Label         string `json:"label"`
			Direction     string `json:"direction"`
			Confirmed     bool   `json:"confirmed"`
		} `json:"dependencies"`
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}

	deps := make([]models.DependencyEdge, 0, len(state.Dependencies))
	for _, d := range state.Dependencies {
		edge := models.DependencyEdge{
			ID:            d.ID,
			FromSectionID: d.FromSectionID,
			ToSectionID:   d.ToSectionID,
			Label:         d.Label,
			Direction:     d.Direction,
			Confirmed:     d.Confirmed,
		}
		if edge.Direction == "" {
			switch d.Type {
			case "related":
				edge.Direction = models.DirectionBidirectional
			default:
				edge.Direction = models.DirectionDirected
				if edge.Label == "" {
					edge.Label = d.Type
				}
			}
		}
		deps = append(deps, edge)
	}

	out := map[string]interface{}{
		"sections":     ensureRaw(state.Sections, "[]"),
		"dependencies": deps,
		"meta":         ensureRaw(state.Meta, "{}"),
	}
	return json.Marshal(out)
}

func ensureRaw(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}
