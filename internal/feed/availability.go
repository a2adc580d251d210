package feed

import (
	"context"
	"errors"
)

const opTrackerNew = "feed.tracker.new"

var errMissingStore = errors.New("note store is required")

// Tracker is the availability boundary the rest of the platform calls into
// when an uploaded resource disappears. It is a state transition layer over
// the note store: nothing is ever deleted, notes are only hidden from feeds.
type Tracker struct {
	store *Store
}

// NewTracker constructs the availability tracker.
func NewTracker(store *Store) (*Tracker, error) {
	if store == nil {
		return nil, newServiceError(opTrackerNew, "missing_store", errMissingStore)
	}
	return &Tracker{store: store}, nil
}

// OnResourceDeleted hides every note backed by the deleted path: the exact
// file and everything lexically nested under it when the path was a folder.
// Publications, comments and favorites referencing the hidden notes persist.
func (t *Tracker) OnResourceDeleted(ctx context.Context, path string) (int64, error) {
	return t.store.MarkNotesUnavailableByPathPrefix(ctx, path)
}

// OnEntityDeleted hides the note mirroring an external entity (an exam call,
// a forum thread) identified by its type tag and code.
func (t *Tracker) OnEntityDeleted(ctx context.Context, noteType NoteType, noteCode int64) (int64, error) {
	return t.store.MarkNotesUnavailableByType(ctx, noteType, noteCode)
}
