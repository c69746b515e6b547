package crdtdoc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) SendBinary(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), data...))
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) frame(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[i]
}

func TestDocumentInsertDelete(t *testing.T) {
	d := newDocument("r1", "s1")

	ops, err := d.InsertText(0, "hello world")
	require.NoError(t, err)
	assert.Len(t, ops, len("hello world"))
	assert.Equal(t, "hello world", d.PlainText())

	_, err = d.InsertText(5, ",")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", d.PlainText())

	_, err = d.DeleteText(0, 7)
	require.NoError(t, err)
	assert.Equal(t, "world", d.PlainText())
}

func TestReplicasConvergeInRelayOrder(t *testing.T) {
	a := newDocument("r1", "s1")
	b := newDocument("r1", "s1")

	opsA, err := a.InsertText(0, "abc")
	require.NoError(t, err)
	opsB, err := b.InsertText(0, "xyz")
	require.NoError(t, err)

	// The server replica is the ordering point: replicas that apply the
	// same frames in the same order land on the same text.
	server := newDocument("r1", "s1")
	require.NoError(t, server.ApplyRemote(opsA))
	require.NoError(t, server.ApplyRemote(opsB))

	mirror := newDocument("r1", "s1")
	require.NoError(t, mirror.ApplyRemote(opsA))
	require.NoError(t, mirror.ApplyRemote(opsB))

	assert.Equal(t, server.PlainText(), mirror.PlainText())
	assert.Len(t, server.PlainText(), 6)
}

func TestApplyRemoteIdempotent(t *testing.T) {
	a := newDocument("r1", "s1")
	b := newDocument("r1", "s1")

	ops, err := a.InsertText(0, "once")
	require.NoError(t, err)

	require.NoError(t, b.ApplyRemote(ops))
	// Redelivery of the same batch must not duplicate content.
	require.NoError(t, b.ApplyRemote(ops))
	assert.Equal(t, "once", b.PlainText())
}

func TestApplyRemoteOutOfOrder(t *testing.T) {
	a := newDocument("r1", "s1")
	b := newDocument("r1", "s1")

	ops, err := a.InsertText(0, "abc")
	require.NoError(t, err)

	// Dropping the first op leaves a sequence gap the replica must reject.
	err = b.ApplyRemote(ops[1:])
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := newDocument("r1", "s1")
	_, err := a.InsertText(0, "persist me")
	require.NoError(t, err)
	_, err = a.DeleteText(0, 8)
	require.NoError(t, err)
	require.Equal(t, "me", a.PlainText())

	snap, err := a.ExportSnapshot()
	require.NoError(t, err)

	b := newDocument("r1", "s1")
	require.NoError(t, b.LoadSnapshot(snap))
	assert.Equal(t, "me", b.PlainText())

	// A restored replica counts as synced.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.WaitSynced(ctx))
}

func TestWaitSyncedTimesOutOnFreshDocument(t *testing.T) {
	d := newDocument("r1", "s1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, d.WaitSynced(ctx))
}

func TestSubscribeSeedsSnapshot(t *testing.T) {
	d := newDocument("r1", "s1")
	_, err := d.InsertText(0, "seeded")
	require.NoError(t, err)

	sink := &frameSink{}
	require.NoError(t, d.Subscribe("c1", sink))
	require.Equal(t, 1, sink.count())

	m, err := DecodeMessage(sink.frame(0))
	require.NoError(t, err)
	assert.Equal(t, MessageKindSnapshot, m.Kind)

	fresh := newDocument("r1", "s1")
	require.NoError(t, fresh.ApplyRemote(m.Ops))
	assert.Equal(t, "seeded", fresh.PlainText())
}

func TestHandleFrameAppliesAndRelays(t *testing.T) {
	d := newDocument("r1", "s1")
	editor := &frameSink{}
	observer := &frameSink{}
	require.NoError(t, d.Subscribe("editor", editor))
	require.NoError(t, d.Subscribe("observer", observer))
	editorSeed, observerSeed := editor.count(), observer.count()

	remote := newDocument("r1", "s1")
	ops, err := remote.InsertText(0, "hi")
	require.NoError(t, err)
	frame, err := EncodeMessage(SyncMessage{Kind: MessageKindOps, Ops: ops})
	require.NoError(t, err)

	require.NoError(t, d.HandleFrame("editor", frame))

	// Server replica integrated the ops.
	assert.Equal(t, "hi", d.PlainText())
	// Relay reaches the other subscriber, never the sender.
	assert.Equal(t, observerSeed+1, observer.count())
	assert.Equal(t, editorSeed, editor.count())
	assert.Equal(t, frame, observer.frame(observerSeed))
}

func TestHandleFrameRelaysUndecodableFrames(t *testing.T) {
	d := newDocument("r1", "s1")
	observer := &frameSink{}
	require.NoError(t, d.Subscribe("observer", observer))
	seed := observer.count()

	garbage := []byte{0xff, 0x01, 0x02}
	require.NoError(t, d.HandleFrame("someone-else", garbage))
	assert.Equal(t, seed+1, observer.count())
	assert.Equal(t, garbage, observer.frame(seed))
}

func TestUnsubscribeStopsRelay(t *testing.T) {
	d := newDocument("r1", "s1")
	sink := &frameSink{}
	require.NoError(t, d.Subscribe("c1", sink))
	d.Unsubscribe("c1")
	before := sink.count()

	remote := newDocument("r1", "s1")
	ops, err := remote.InsertText(0, "x")
	require.NoError(t, err)
	frame, err := EncodeMessage(SyncMessage{Kind: MessageKindOps, Ops: ops})
	require.NoError(t, err)
	require.NoError(t, d.HandleFrame("other", frame))

	assert.Equal(t, before, sink.count())
}

func TestSubscribeLosesNothingToConcurrentEdits(t *testing.T) {
	d := newDocument("r1", "s1")
	author := newDocument("r1", "s1")

	const edits = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < edits; i++ {
			ops, err := author.InsertText(i, "x")
			if err != nil {
				t.Error(err)
				return
			}
			frame, err := EncodeMessage(SyncMessage{Kind: MessageKindOps, Ops: ops})
			if err != nil {
				t.Error(err)
				return
			}
			_ = d.HandleFrame("author", frame)
		}
	}()

	// Join mid-stream: every op the server applies must reach the new
	// subscriber through the seed snapshot or a relayed frame.
	sink := &frameSink{}
	require.NoError(t, d.Subscribe("late", sink))
	<-done

	msgs := make([]SyncMessage, 0, sink.count())
	for i := 0; i < sink.count(); i++ {
		m, err := DecodeMessage(sink.frame(i))
		require.NoError(t, err)
		msgs = append(msgs, m)
	}

	// A relayed frame can land before the seed snapshot covering it, so
	// replay keeps retrying gapped frames until everything applies.
	replica := newDocument("r1", "s1")
	for len(msgs) > 0 {
		before := len(msgs)
		kept := msgs[:0]
		for _, m := range msgs {
			if err := replica.ApplyRemote(m.Ops); err != nil {
				kept = append(kept, m)
			}
		}
		msgs = kept
		require.Less(t, len(msgs), before, "replay made no progress")
	}
	assert.Equal(t, d.PlainText(), replica.PlainText())
	assert.Len(t, d.PlainText(), edits)
}
