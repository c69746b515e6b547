package crdtdoc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"coscribe/internal/models"
	"coscribe/internal/store"
)

// MergeSeparator is inserted between the target's and the source's prose
// when two sections are combined. Visible on purpose: readers should see
// where the stitched-in content begins.
const MergeSeparator = "\n\n---\n\n"

// DefaultInitialSyncTimeout bounds how long a merge waits for the source
// document to finish its initial sync before proceeding with whatever
// content has replicated so far.
const DefaultInitialSyncTimeout = 3 * time.Second

type docKey struct {
	roomID    string
	sectionID string
}

// Registry owns every live server replica, keyed by (room, section).
// Documents are created lazily on first open and discarded when their
// section is deleted or merged away.
type Registry struct {
	store  store.RoomStore
	logger *slog.Logger

	// InitialSyncTimeout is the merge sync window. Overridable in tests.
	InitialSyncTimeout time.Duration

	mu   sync.Mutex
	docs map[docKey]*Document
}

// NewRegistry creates a registry. store may be nil when snapshot backup is
// not wanted (tests).
func NewRegistry(st store.RoomStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:              st,
		logger:             logger,
		InitialSyncTimeout: DefaultInitialSyncTimeout,
		docs:               make(map[docKey]*Document),
	}
}

// Open returns the document for a section, creating it if absent. A newly
// created document is seeded from its persisted snapshot when one exists.
func (r *Registry) Open(ctx context.Context, roomID, sectionID string) (*Document, error) {
	r.mu.Lock()
	key := docKey{roomID, sectionID}
	if d, ok := r.docs[key]; ok {
		r.mu.Unlock()
		return d, nil
	}
	d := newDocument(roomID, sectionID)
	r.docs[key] = d
	r.mu.Unlock()

	if r.store != nil {
		snap, err := r.store.LoadDocSnapshot(ctx, roomID, sectionID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			r.logger.Warn("doc snapshot load failed",
				"room_id", roomID, "section_id", sectionID, "error", err)
		default:
			if err := d.LoadSnapshot(snap); err != nil {
				r.logger.Warn("doc snapshot restore failed",
					"room_id", roomID, "section_id", sectionID, "error", err)
			}
		}
	}
	return d, nil
}

// Get returns the live document for a section without creating one.
func (r *Registry) Get(roomID, sectionID string) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docKey{roomID, sectionID}]
	return d, ok
}

// openExisting returns a section's document, reviving it from its persisted
// snapshot when no live replica exists (the registry was rebuilt after a
// restart). Unlike Open it never creates an empty document: no live replica
// and no snapshot is models.ErrNotFound.
func (r *Registry) openExisting(ctx context.Context, roomID, sectionID string) (*Document, error) {
	if d, ok := r.Get(roomID, sectionID); ok {
		return d, nil
	}
	if r.store == nil {
		return nil, models.ErrNotFound
	}
	if _, err := r.store.LoadDocSnapshot(ctx, roomID, sectionID); err != nil {
		return nil, err
	}
	return r.Open(ctx, roomID, sectionID)
}

// Discard destroys a section's document and its persisted snapshot. Called
// when the owning section is deleted or the document was merged away.
func (r *Registry) Discard(ctx context.Context, roomID, sectionID string) {
	r.mu.Lock()
	delete(r.docs, docKey{roomID, sectionID})
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteDocSnapshot(ctx, roomID, sectionID); err != nil {
			r.logger.Warn("doc snapshot delete failed",
				"room_id", roomID, "section_id", sectionID, "error", err)
		}
	}
}

// DiscardRoom drops every live document of a retired room. Persisted
// snapshots stay; the room may be reactivated later.
func (r *Registry) DiscardRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.docs {
		if key.roomID == roomID {
			delete(r.docs, key)
		}
	}
}

// MergeInto transactionally appends the source document's prose to the end
// of the target, preceded by the separator, then destroys the source.
//
// The append runs as one critical section against the target, so no
// observer ever sees a partially merged document. A source without a live
// replica is revived from its persisted snapshot; one that left no snapshot
// returns models.ErrNotFound, and the caller clears the merge flag
// and does nothing else, which keeps a dangling flag from re-triggering the
// merge forever.
func (r *Registry) MergeInto(ctx context.Context, roomID, targetID, sourceID string) error {
	source, err := r.openExisting(ctx, roomID, sourceID)
	if err != nil {
		return err
	}
	target, err := r.Open(ctx, roomID, targetID)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.InitialSyncTimeout)
	err = source.WaitSynced(waitCtx)
	cancel()
	if err != nil {
		// Partial-sync fallback: proceed with whatever has replicated.
		// Prose arriving on the source after this point is not included.
		r.logger.Warn("merge proceeding before source initial sync",
			"room_id", roomID, "target_id", targetID, "source_id", sourceID)
	}

	text := source.PlainText()

	target.mu.Lock()
	current := target.plainTextLocked()
	ops, err := target.insertTextLocked(len([]rune(current)), MergeSeparator+text)
	target.mu.Unlock()
	if err != nil {
		return err
	}

	if err := target.broadcastOps(ops); err != nil {
		r.logger.Warn("merge broadcast failed",
			"room_id", roomID, "target_id", targetID, "error", err)
	}
	r.Discard(ctx, roomID, sourceID)
	r.logger.Info("documents merged",
		"room_id", roomID, "target_id", targetID, "source_id", sourceID,
		"merged_runes", len([]rune(text)))
	return nil
}

// FlushSnapshots persists the state of every dirty document.
func (r *Registry) FlushSnapshots(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	docs := make([]*Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	r.mu.Unlock()

	for _, d := range docs {
		if !d.dirty.Swap(false) {
			continue
		}
		snap, err := d.ExportSnapshot()
		if err != nil {
			r.logger.Warn("doc snapshot export failed",
				"room_id", d.RoomID, "section_id", d.SectionID, "error", err)
			continue
		}
		if err := r.store.SaveDocSnapshot(ctx, d.RoomID, d.SectionID, snap); err != nil {
			d.dirty.Store(true)
			r.logger.Warn("doc snapshot save failed",
				"room_id", d.RoomID, "section_id", d.SectionID, "error", err)
		}
	}
}

// RunSnapshotLoop flushes dirty documents on the given interval until ctx
// is cancelled, then performs one final flush.
func (r *Registry) RunSnapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.FlushSnapshots(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.FlushSnapshots(flushCtx)
			cancel()
			return
		}
	}
}
