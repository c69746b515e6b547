package crdtdoc

import (
	"encoding/json"
	"fmt"
)

// Sync message kinds carried in binary frames on a section's document
// channel. The room coordinator never decodes these; only this package and
// the clients' replicas do.
const (
	MessageKindOps      = "ops"
	MessageKindSnapshot = "snapshot"
)

// Version identifies one operation as an (agent, seq) pair, mirroring the
// causal graph's raw version scheme.
type Version struct {
	Agent string `json:"agent"`
	Seq   int    `json:"seq"`
}

// Op types on the wire.
const (
	OpInsert = "ins"
	OpDelete = "del"
)

// WireOp is one CRDT text operation with enough causal context for any
// replica to integrate it: its own id, the frontier it was generated
// against, and the positional edit.
type WireOp struct {
	ID      Version   `json:"id"`
	Parents []Version `json:"parents"`
	Type    string    `json:"type"`
	Pos     int       `json:"pos"`
	Content string    `json:"content,omitempty"`
}

// SyncMessage is the envelope inside every binary document frame: either a
// batch of new operations or a full snapshot (the complete op log), which
// seeds newly subscribed replicas.
type SyncMessage struct {
	Kind string   `json:"kind"`
	Ops  []WireOp `json:"ops"`
}

// EncodeMessage serializes a sync message for a binary frame.
func EncodeMessage(m SyncMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a binary frame. Unknown kinds decode fine and are
// ignored by the caller.
func DecodeMessage(data []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SyncMessage{}, fmt.Errorf("decode sync message: %w", err)
	}
	return m, nil
}
