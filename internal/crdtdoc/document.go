// Package crdtdoc holds the live, multi-writer prose of outline sections.
// Each section owns one replicated text buffer backed by the eg-walker CRDT.
// The server replica is the ordering point: operations are applied in the
// order frames arrive, and subscribers converge by replaying the same frames
// in the same order.
package crdtdoc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JonyBepary/go-eg-walker/causalgraph"
	"github.com/JonyBepary/go-eg-walker/egwalker"
	"github.com/google/uuid"
)

// FrameSender delivers opaque binary frames to one subscriber of a
// document channel. Implementations must not block.
type FrameSender interface {
	SendBinary(data []byte)
}

// Document is the server replica of one section's prose. All walker access
// goes through mu; subscribers are tracked separately so relaying frames
// never contends with edits.
type Document struct {
	RoomID    string
	SectionID string

	agent string

	mu     sync.Mutex
	walker *egwalker.Walker[rune]

	syncedOnce sync.Once
	synced     chan struct{}
	dirty      atomic.Bool

	subMu sync.Mutex
	subs  map[string]FrameSender
}

func newDocument(roomID, sectionID string) *Document {
	return &Document{
		RoomID:    roomID,
		SectionID: sectionID,
		agent:     "srv-" + uuid.NewString()[:8],
		walker:    egwalker.NewWalker[rune](),
		synced:    make(chan struct{}),
		subs:      make(map[string]FrameSender),
	}
}

// markSynced records that this replica has seen remote state at least once.
func (d *Document) markSynced() {
	d.syncedOnce.Do(func() { close(d.synced) })
}

// WaitSynced blocks until the first remote state arrives or ctx expires.
// Merge uses this with a bounded window; expiry is the partial-sync
// fallback, not a failure.
func (d *Document) WaitSynced(ctx context.Context) error {
	select {
	case <-d.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlainText flattens the replica's current state to a string.
func (d *Document) PlainText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plainTextLocked()
}

func (d *Document) plainTextLocked() string {
	return string(d.walker.GetActiveItems())
}

// InsertText inserts text at the given rune position as a run of local
// operations, returning the wire ops to relay to other replicas.
func (d *Document) InsertText(pos int, text string) ([]WireOp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertTextLocked(pos, text)
}

func (d *Document) insertTextLocked(pos int, text string) ([]WireOp, error) {
	ops := make([]WireOp, 0, len(text))
	for _, r := range text {
		op, err := d.localOpLocked(egwalker.ListOp[rune]{
			Type:    egwalker.ListOpTypeInsert,
			Pos:     pos,
			Content: r,
		})
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		pos++
	}
	return ops, nil
}

// DeleteText deletes n runes starting at the given rune position.
func (d *Document) DeleteText(pos, n int) ([]WireOp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]WireOp, 0, n)
	for i := 0; i < n; i++ {
		// Each delete targets the same visible position; the remainder
		// shifts left as items are removed.
		op, err := d.localOpLocked(egwalker.ListOp[rune]{
			Type: egwalker.ListOpTypeDelete,
			Pos:  pos,
		})
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// localOpLocked integrates one operation authored by the server replica.
// The walker only materializes ops integrated without explicit parents
// (its LocalInsert path); explicit-parent integration records an op in the
// causal graph without ever applying it to the edit context. All ops
// therefore go through the context-parented path, and the wire op carries
// the frontier at authoring time for subscribers.
func (d *Document) localOpLocked(op egwalker.ListOp[rune]) (WireOp, error) {
	cg := d.walker.GetCG()
	rawParents, err := causalgraph.LVToRawList(cg, d.walker.GetVersion())
	if err != nil {
		return WireOp{}, fmt.Errorf("resolve frontier: %w", err)
	}
	seq := causalgraph.NextSeqForAgent(cg, causalgraph.AgentID(d.agent))
	if _, err := d.walker.Integrate(op, d.agent, nil); err != nil {
		return WireOp{}, fmt.Errorf("integrate local op: %w", err)
	}
	d.dirty.Store(true)

	wire := WireOp{
		ID:      Version{Agent: d.agent, Seq: seq},
		Parents: toWireVersions(rawParents),
		Type:    OpInsert,
		Pos:     op.Pos,
	}
	if op.Type == egwalker.ListOpTypeDelete {
		wire.Type = OpDelete
	} else {
		wire.Content = string(op.Content)
	}
	return wire, nil
}

// ApplyRemote integrates a batch of operations from another replica, in
// arrival order against the replica's live context. Duplicates
// (already-known seqs) are skipped so redelivery is harmless; ops arriving
// ahead of their agent's sequence are dropped.
func (d *Document) ApplyRemote(ops []WireOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cg := d.walker.GetCG()
	for _, w := range ops {
		agent := causalgraph.AgentID(w.ID.Agent)
		expected := causalgraph.NextSeqForAgent(cg, agent)
		if w.ID.Seq < expected {
			continue
		}
		if w.ID.Seq > expected {
			return fmt.Errorf("op %s:%d arrived out of order (expected seq %d)", w.ID.Agent, w.ID.Seq, expected)
		}
		op, err := fromWireOp(w)
		if err != nil {
			return err
		}
		if _, err := d.walker.Integrate(op, w.ID.Agent, nil); err != nil {
			return fmt.Errorf("integrate remote op %s:%d: %w", w.ID.Agent, w.ID.Seq, err)
		}
		d.dirty.Store(true)
	}
	d.markSynced()
	return nil
}

// SnapshotOps returns the full operation log as wire ops, in an order every
// replica can integrate from scratch (parents always precede children).
func (d *Document) SnapshotOps() ([]WireOp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cg := d.walker.GetCG()
	ops := d.walker.GetOps()
	out := make([]WireOp, 0, len(ops))
	for lv := causalgraph.LV(0); lv < cg.NextLV; lv++ {
		agent, seq, parentLVs, ok := causalgraph.LVToRawWithParents(cg, lv)
		if !ok {
			return nil, fmt.Errorf("snapshot: unknown version %d", lv)
		}
		rawParents, err := causalgraph.LVToRawList(cg, parentLVs)
		if err != nil {
			return nil, fmt.Errorf("snapshot: resolve parents of %d: %w", lv, err)
		}
		op := ops[int(lv)]
		wire := WireOp{
			ID:      Version{Agent: string(agent), Seq: seq},
			Parents: toWireVersions(rawParents),
			Type:    OpInsert,
			Pos:     op.Pos,
		}
		if op.Type == egwalker.ListOpTypeDelete {
			wire.Type = OpDelete
		} else {
			wire.Content = string(op.Content)
		}
		out = append(out, wire)
	}
	return out, nil
}

// ExportSnapshot serializes the full state for backup. Safe to call at any
// time; concurrent edits simply land in a later snapshot.
func (d *Document) ExportSnapshot() ([]byte, error) {
	ops, err := d.SnapshotOps()
	if err != nil {
		return nil, err
	}
	return EncodeMessage(SyncMessage{Kind: MessageKindSnapshot, Ops: ops})
}

// LoadSnapshot seeds this replica from a serialized snapshot and marks it
// synced.
func (d *Document) LoadSnapshot(data []byte) error {
	m, err := DecodeMessage(data)
	if err != nil {
		return err
	}
	return d.ApplyRemote(m.Ops)
}

// Subscribe registers a channel subscriber, then seeds it with the current
// snapshot. Registration comes first so ops relayed while the snapshot is
// exported still reach the subscriber; the overlap is harmless because the
// subscriber's replica skips redelivered ops.
func (d *Document) Subscribe(id string, s FrameSender) error {
	d.subMu.Lock()
	d.subs[id] = s
	d.subMu.Unlock()
	snap, err := d.ExportSnapshot()
	if err != nil {
		d.Unsubscribe(id)
		return err
	}
	s.SendBinary(snap)
	return nil
}

// Unsubscribe removes a channel subscriber.
func (d *Document) Unsubscribe(id string) {
	d.subMu.Lock()
	delete(d.subs, id)
	d.subMu.Unlock()
}

// HandleFrame processes one inbound binary frame from a subscriber: ops and
// snapshots are integrated into the server replica, and every frame is
// relayed opaquely to the other subscribers regardless. Undecodable frames
// are still relayed; the protocol favors the stream's availability.
func (d *Document) HandleFrame(senderID string, frame []byte) error {
	var applyErr error
	if m, err := DecodeMessage(frame); err == nil {
		switch m.Kind {
		case MessageKindOps, MessageKindSnapshot:
			applyErr = d.ApplyRemote(m.Ops)
		}
	}
	d.relay(senderID, frame)
	return applyErr
}

// relay fans a frame out to every subscriber except the sender.
func (d *Document) relay(senderID string, frame []byte) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for id, s := range d.subs {
		if id == senderID {
			continue
		}
		s.SendBinary(frame)
	}
}

// broadcastOps sends server-authored ops (merge output) to all subscribers.
func (d *Document) broadcastOps(ops []WireOp) error {
	if len(ops) == 0 {
		return nil
	}
	frame, err := EncodeMessage(SyncMessage{Kind: MessageKindOps, Ops: ops})
	if err != nil {
		return err
	}
	d.relay("", frame)
	return nil
}

func toWireVersions(raw []causalgraph.RawVersion) []Version {
	out := make([]Version, len(raw))
	for i, r := range raw {
		out[i] = Version{Agent: string(r.Agent), Seq: r.Seq}
	}
	return out
}

func fromWireOp(w WireOp) (egwalker.ListOp[rune], error) {
	switch w.Type {
	case OpInsert:
		runes := []rune(w.Content)
		if len(runes) != 1 {
			return egwalker.ListOp[rune]{}, fmt.Errorf("insert op %s:%d carries %d runes, want 1", w.ID.Agent, w.ID.Seq, len(runes))
		}
		return egwalker.ListOp[rune]{Type: egwalker.ListOpTypeInsert, Pos: w.Pos, Content: runes[0]}, nil
	case OpDelete:
		return egwalker.ListOp[rune]{Type: egwalker.ListOpTypeDelete, Pos: w.Pos}, nil
	default:
		return egwalker.ListOp[rune]{}, fmt.Errorf("unknown op type %q", w.Type)
	}
}
