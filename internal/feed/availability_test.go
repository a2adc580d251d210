package feed

import (
	"context"
	"testing"
)

func TestResourceDeletionHidesExactAndNestedNotes(t *testing.T) {
	env := newTestEnv(t)
	tracker, err := NewTracker(env.store)
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}

	exact := mustCreateDocument(t, env, "user-1", "cs101", "/cs101/week1")
	nested := mustCreateDocument(t, env, "user-1", "cs101", "/cs101/week1/notes.pdf")
	sibling := mustCreateDocument(t, env, "user-1", "cs101", "/cs101/week10")

	hidden, err := tracker.OnResourceDeleted(context.Background(), "/cs101/week1")
	if err != nil {
		t.Fatalf("unexpected cascade error: %v", err)
	}
	if hidden != 2 {
		t.Fatalf("expected 2 hidden notes, got %d", hidden)
	}

	for _, code := range []int64{exact.NoteCode, nested.NoteCode} {
		note, err := env.store.GetNote(context.Background(), code)
		if err != nil {
			t.Fatalf("unexpected lookup error: %v", err)
		}
		if !note.Unavailable {
			t.Fatalf("note %d must be hidden", code)
		}
	}
	note, err := env.store.GetNote(context.Background(), sibling.NoteCode)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	// /cs101/week10 shares the deleted prefix as a string but is not nested
	// under the /cs101/week1 folder.
	if note.Unavailable {
		t.Fatalf("sibling path must stay available")
	}
}

func TestResourceDeletionWithTrailingSlash(t *testing.T) {
	env := newTestEnv(t)
	tracker, err := NewTracker(env.store)
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	nested := mustCreateDocument(t, env, "user-1", "cs101", "/cs101/week1/slides.pdf")

	hidden, err := tracker.OnResourceDeleted(context.Background(), "/cs101/week1/")
	if err != nil {
		t.Fatalf("unexpected cascade error: %v", err)
	}
	if hidden != 1 {
		t.Fatalf("expected 1 hidden note, got %d", hidden)
	}
	note, err := env.store.GetNote(context.Background(), nested.NoteCode)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !note.Unavailable {
		t.Fatalf("note under the deleted folder must be hidden")
	}
}

func TestResourceDeletionRejectsEmptyPath(t *testing.T) {
	env := newTestEnv(t)
	tracker, err := NewTracker(env.store)
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	if _, err := tracker.OnResourceDeleted(context.Background(), "/"); err == nil {
		t.Fatalf("expected validation error for empty path")
	}
}

func TestEntityDeletionHidesMirrorNote(t *testing.T) {
	env := newTestEnv(t)
	tracker, err := NewTracker(env.store)
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	created, err := env.store.CreateNote(context.Background(), CreateNoteRequest{
		NoteType:   NoteTypeForumPost,
		Owner:      mustUserID(t, "user-1"),
		OwnerScope: "cs101",
		Body:       "thread opened",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	hidden, err := tracker.OnEntityDeleted(context.Background(), NoteTypeForumPost, created.NoteCode)
	if err != nil {
		t.Fatalf("unexpected cascade error: %v", err)
	}
	if hidden != 1 {
		t.Fatalf("expected 1 hidden note, got %d", hidden)
	}

	// Repeating the deletion is a harmless no-op.
	hidden, err = tracker.OnEntityDeleted(context.Background(), NoteTypeForumPost, created.NoteCode)
	if err != nil {
		t.Fatalf("unexpected cascade error: %v", err)
	}
	if hidden != 0 {
		t.Fatalf("expected no additional rows, got %d", hidden)
	}
}

func TestCascadePreservesDependentRows(t *testing.T) {
	env := newTestEnv(t, "comment-1")
	tracker, err := NewTracker(env.store)
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	created := mustCreateDocument(t, env, "user-1", "cs101", "/cs101/syllabus.pdf")
	if _, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, mustUserID(t, "user-2"), "thanks"); err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	if _, err := env.ledger.Favorite(context.Background(), mustUserID(t, "user-3"), NoteTarget(created.NoteCode)); err != nil {
		t.Fatalf("unexpected favorite error: %v", err)
	}

	if _, err := tracker.OnResourceDeleted(context.Background(), "/cs101/syllabus.pdf"); err != nil {
		t.Fatalf("unexpected cascade error: %v", err)
	}

	var comments int64
	if err := env.db.Model(&Comment{}).Where("note_code = ?", created.NoteCode).Count(&comments).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if comments != 1 {
		t.Fatalf("comments must survive the cascade, got %d", comments)
	}
	count, err := env.ledger.FavoriteCount(context.Background(), NoteTarget(created.NoteCode))
	if err != nil || count != 1 {
		t.Fatalf("favorites must survive the cascade, got %d err=%v", count, err)
	}
}
