// Package room implements the coordinator that owns one collaborative
// session's authoritative state. Each room runs a single actor goroutine
// that applies inbound commands strictly in arrival order, persists the
// result, then fans deltas out to subscribers. The one-at-a-time loop is
// what makes state mutation race-free without explicit locking; different
// rooms run fully independently.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"coscribe/internal/crdtdoc"
	"coscribe/internal/models"
	"coscribe/internal/store"
)

// Conn is one subscribed room-channel connection. Send must not block; slow
// consumers drop frames rather than stalling the coordinator.
type Conn interface {
	ID() string
	Send(data []byte)
}

const inboxSize = 256

// persistTimeout bounds the durable write on each applied command.
const persistTimeout = 5 * time.Second

type roomMsg interface{}

type attachMsg struct {
	conn  Conn
	reply chan bool
}

type detachMsg struct{ connID string }

type commandMsg struct {
	connID string
	data   []byte
}

type snapshotMsg struct{ reply chan *models.RoomState }

type internalMsg struct{ fn func(*Room) }

// Room is the coordinator for one session. All fields below inbox are
// touched only by the actor goroutine.
type Room struct {
	ID string

	store   store.RoomStore
	docs    *crdtdoc.Registry
	logger  *slog.Logger
	onEmpty func(r *Room)

	inbox chan roomMsg

	// stopMu guards stopped. Senders register with inflight before the
	// blocking send and never hold stopMu across it, so shutdown can wait
	// them out while still receiving.
	stopMu   sync.Mutex
	stopped  bool
	inflight sync.WaitGroup

	state    *models.RoomState
	conns    map[string]Conn
	presence *Tracker
}

func newRoom(id string, state *models.RoomState, st store.RoomStore, docs *crdtdoc.Registry, logger *slog.Logger, onEmpty func(*Room)) *Room {
	return &Room{
		ID:       id,
		store:    st,
		docs:     docs,
		logger:   logger.With("room_id", id),
		onEmpty:  onEmpty,
		inbox:    make(chan roomMsg, inboxSize),
		state:    state,
		conns:    make(map[string]Conn),
		presence: NewTracker(),
	}
}

func (r *Room) start() {
	// A merge flag that survived a shutdown re-triggers its merge now;
	// the flag is cleared either way, so this happens at most once.
	for _, s := range r.state.Sections {
		if s.MergeRequestSourceID != "" {
			go r.runMerge(s.ID, s.MergeRequestSourceID)
		}
	}
	go r.run()
}

func (r *Room) run() {
	for msg := range r.inbox {
		switch m := msg.(type) {
		case attachMsg:
			r.conns[m.conn.ID()] = m.conn
			m.reply <- true
			r.broadcastRoster()
		case detachMsg:
			delete(r.conns, m.connID)
			r.presence.Remove(m.connID)
			r.broadcastRoster()
			if len(r.conns) == 0 {
				r.shutdown()
				return
			}
		case commandMsg:
			r.handleCommand(m.connID, m.data)
		case snapshotMsg:
			m.reply <- r.state.Clone()
		case internalMsg:
			m.fn(r)
		}
	}
}

// shutdown retires an empty room: refuse further senders, then keep
// receiving until every in-flight sender has finished and the inbox is
// drained. Receiving while waiting matters: with a full inbox, a blocked
// sender only completes once the actor takes a message. Live documents stay
// in the registry; the snapshot loop keeps persisting them and the hub
// re-activates the room on the next connection.
func (r *Room) shutdown() {
	r.stopMu.Lock()
	r.stopped = true
	r.stopMu.Unlock()
	if r.onEmpty != nil {
		r.onEmpty(r)
	}
	settled := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(settled)
	}()
	for {
		select {
		case msg := <-r.inbox:
			r.reject(msg)
		case <-settled:
			for {
				select {
				case msg := <-r.inbox:
					r.reject(msg)
				default:
					r.logger.Debug("room retired")
					return
				}
			}
		}
	}
}

// reject answers a message received after retirement.
func (r *Room) reject(msg roomMsg) {
	switch m := msg.(type) {
	case attachMsg:
		m.reply <- false
	case snapshotMsg:
		m.reply <- r.state.Clone()
	}
}

func (r *Room) enqueue(msg roomMsg) bool {
	r.stopMu.Lock()
	if r.stopped {
		r.stopMu.Unlock()
		return false
	}
	r.inflight.Add(1)
	r.stopMu.Unlock()
	r.inbox <- msg
	r.inflight.Done()
	return true
}

// Attach subscribes a connection. Returns false when the room retired
// concurrently; the hub then re-activates and retries.
func (r *Room) Attach(c Conn) bool {
	reply := make(chan bool, 1)
	if !r.enqueue(attachMsg{conn: c, reply: reply}) {
		return false
	}
	return <-reply
}

// Detach unsubscribes a connection.
func (r *Room) Detach(connID string) {
	r.enqueue(detachMsg{connID: connID})
}

// Submit hands one inbound frame to the coordinator. Frames are processed
// in the order they arrive here.
func (r *Room) Submit(connID string, data []byte) {
	r.enqueue(commandMsg{connID: connID, data: data})
}

// Snapshot returns a copy of the current authoritative state.
func (r *Room) Snapshot(ctx context.Context) (*models.RoomState, error) {
	reply := make(chan *models.RoomState, 1)
	if !r.enqueue(snapshotMsg{reply: reply}) {
		return nil, models.ErrNotFound
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCommand routes one inbound frame. Malformed envelopes are dropped
// with no reply: the protocol favors availability of the stream over
// per-command acknowledgment. Unknown types relay verbatim to the other
// connections, a compatibility behavior some clients depend on.
func (r *Room) handleCommand(connID string, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		r.logger.Debug("dropping malformed frame", "conn_id", connID)
		return
	}

	switch env.Type {
	case models.TypeIdentify:
		r.handleIdentify(connID, data)
	case models.TypeAddIntentBlock, models.TypeUpdateIntentBlock, models.TypeDeleteIntentBlock,
		models.TypeAddWritingBlock, models.TypeUpdateWritingBlock, models.TypeDeleteWritingBlock,
		models.TypeAddDependency, models.TypeUpdateDependency, models.TypeDeleteDependency,
		models.TypeUpdateRoomMeta:
		r.handleMutation(connID, env.Type, data)
	default:
		r.broadcastExcept(connID, data)
	}
}

func (r *Room) handleIdentify(connID string, data []byte) {
	var cmd models.IdentifyCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return
	}
	if err := cmd.Validate(); err != nil {
		r.logger.Debug("dropping invalid identify", "conn_id", connID, "error", err)
		return
	}
	r.presence.Identify(connID, cmd.UserID, cmd.UserName)
	r.broadcastRoster()
}

// handleMutation applies one structural command: mutate, persist, broadcast,
// in that order. A failed durable write suppresses the broadcast so clients
// never converge on a state that could be lost.
func (r *Room) handleMutation(connID, typ string, data []byte) {
	outbound, echoAll, after, ok := r.apply(connID, typ, data)
	if !ok {
		return
	}
	if !r.persist() {
		return
	}
	if echoAll {
		r.broadcastAll(outbound)
	} else {
		r.broadcastExcept(connID, outbound)
	}
	if after != nil {
		after()
	}
}

func contextWithPersistTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

func (r *Room) persist() bool {
	ctx, cancel := contextWithPersistTimeout()
	defer cancel()
	if err := r.store.SaveRoomState(ctx, r.ID, r.state); err != nil {
		r.logger.Error("room state save failed", "error", err)
		return false
	}
	return true
}

func (r *Room) broadcastAll(data []byte) {
	for _, c := range r.conns {
		c.Send(data)
	}
}

func (r *Room) broadcastExcept(connID string, data []byte) {
	for id, c := range r.conns {
		if id == connID {
			continue
		}
		c.Send(data)
	}
}

func (r *Room) broadcastRoster() {
	out, err := json.Marshal(models.OnlineUsersMessage{
		Type:  models.TypeOnlineUsers,
		Users: r.presence.Roster(),
	})
	if err != nil {
		return
	}
	r.broadcastAll(out)
}

// runMerge executes a requested document merge off the actor goroutine, so
// the sync wait never blocks the room's serialization point. The merge flag
// is cleared afterwards no matter what happened: a missing source must not
// leave a flag that re-triggers the attempt on every reconnection.
func (r *Room) runMerge(sectionID, sourceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.docs.InitialSyncTimeout+10*time.Second)
	defer cancel()

	err := r.docs.MergeInto(ctx, r.ID, sectionID, sourceID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		r.logger.Info("merge source missing, clearing flag",
			"section_id", sectionID, "source_id", sourceID)
	case err != nil:
		r.logger.Error("document merge failed",
			"section_id", sectionID, "source_id", sourceID, "error", err)
	}

	r.enqueue(internalMsg{fn: func(r *Room) { r.clearMergeFlag(sectionID) }})
}

func (r *Room) clearMergeFlag(sectionID string) {
	node := r.state.Section(sectionID)
	if node == nil || node.MergeRequestSourceID == "" {
		return
	}
	node.MergeRequestSourceID = ""
	if !r.persist() {
		return
	}
	typ := models.TypeUpdateWritingBlock
	if node.Kind == models.SectionKindIntent {
		typ = models.TypeUpdateIntentBlock
	}
	out, err := json.Marshal(models.BlockCommand{Type: typ, Block: *node})
	if err != nil {
		return
	}
	// Server-initiated update: there is no originator to exclude.
	r.broadcastAll(out)
}
