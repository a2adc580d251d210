package feed

import (
	"context"
	"errors"
	"testing"
)

func TestShareIdempotent(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	sharer := mustUserID(t, "user-2")
	scope := UserScope("user-2")

	first, err := env.dispatcher.Share(context.Background(), created.NoteCode, sharer, scope)
	if err != nil {
		t.Fatalf("unexpected share error: %v", err)
	}
	if !first.Changed || first.PubCode == 0 {
		t.Fatalf("first share must create a publication, got %+v", first)
	}

	second, err := env.dispatcher.Share(context.Background(), created.NoteCode, sharer, scope)
	if err != nil {
		t.Fatalf("repeated share must not fail: %v", err)
	}
	if second.Changed {
		t.Fatalf("repeated share must be a no-op")
	}

	var count int64
	if err := env.db.Model(&Publication{}).
		Where("note_code = ? AND pub_type = ?", created.NoteCode, PubTypeShared).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count shares: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one share row, got %d", count)
	}
}

func TestShareIntoSeparateScopesCreatesSeparateRows(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	sharer := mustUserID(t, "user-2")

	personal, err := env.dispatcher.Share(context.Background(), created.NoteCode, sharer, UserScope("user-2"))
	if err != nil || !personal.Changed {
		t.Fatalf("expected personal share, changed=%v err=%v", personal.Changed, err)
	}
	global, err := env.dispatcher.Share(context.Background(), created.NoteCode, sharer, GlobalScope())
	if err != nil || !global.Changed {
		t.Fatalf("expected global share, changed=%v err=%v", global.Changed, err)
	}
	if personal.PubCode == global.PubCode {
		t.Fatalf("distinct scopes must receive distinct pub codes")
	}
}

func TestShareUnavailableNote(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	if _, err := env.store.MarkNoteUnavailable(context.Background(), created.NoteCode); err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}

	_, err := env.dispatcher.Share(context.Background(), created.NoteCode, mustUserID(t, "user-2"), GlobalScope())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unavailable note, got %v", err)
	}
}

func TestShareMissingNote(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispatcher.Share(context.Background(), 99, mustUserID(t, "user-2"), GlobalScope())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing note, got %v", err)
	}
}

func TestUnshareIsNoOpWhenAbsent(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	sharer := mustUserID(t, "user-2")
	scope := UserScope("user-2")

	if _, err := env.dispatcher.Share(context.Background(), created.NoteCode, sharer, scope); err != nil {
		t.Fatalf("unexpected share error: %v", err)
	}

	changed, err := env.dispatcher.Unshare(context.Background(), created.NoteCode, sharer, scope)
	if err != nil {
		t.Fatalf("unexpected unshare error: %v", err)
	}
	if !changed {
		t.Fatalf("first unshare must remove the row")
	}

	changed, err = env.dispatcher.Unshare(context.Background(), created.NoteCode, sharer, scope)
	if err != nil {
		t.Fatalf("repeated unshare must not fail: %v", err)
	}
	if changed {
		t.Fatalf("repeated unshare must be a no-op")
	}
}

func TestPublishCommentCreatesPublication(t *testing.T) {
	env := newTestEnv(t, "comment-1")
	created := mustCreatePost(t, env, "user-1", "hello")

	published, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, mustUserID(t, "user-2"), "nice post")
	if err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	if published.Comment.CommentCode != "comment-1" {
		t.Fatalf("unexpected comment code %q", published.Comment.CommentCode)
	}
	if published.PubCode <= created.PubCode {
		t.Fatalf("comment publication must receive a later pub code")
	}

	var publication Publication
	if err := env.db.Where("pub_code = ?", published.PubCode).Take(&publication).Error; err != nil {
		t.Fatalf("failed to load publication: %v", err)
	}
	if publication.PubType != PubTypeComment {
		t.Fatalf("expected comment publication, got %s", publication.PubType)
	}
	if publication.CommentCode != "comment-1" {
		t.Fatalf("publication must reference the comment")
	}
}

func TestPublishSecondCommentBySameAuthor(t *testing.T) {
	env := newTestEnv(t, "comment-1", "comment-2")
	created := mustCreatePost(t, env, "user-1", "hello")
	author := mustUserID(t, "user-2")

	if _, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, author, "first"); err != nil {
		t.Fatalf("unexpected first comment error: %v", err)
	}
	if _, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, author, "second"); err != nil {
		t.Fatalf("a second comment by the same author must be allowed: %v", err)
	}

	var count int64
	if err := env.db.Model(&Publication{}).
		Where("note_code = ? AND pub_type = ?", created.NoteCode, PubTypeComment).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count comment publications: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two comment publications, got %d", count)
	}
}

func TestPublishCommentOnUnavailableNote(t *testing.T) {
	env := newTestEnv(t, "comment-1")
	created := mustCreatePost(t, env, "user-1", "hello")
	if _, err := env.store.MarkNoteUnavailable(context.Background(), created.NoteCode); err != nil {
		t.Fatalf("unexpected mark error: %v", err)
	}

	_, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, mustUserID(t, "user-2"), "too late")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPublishCommentRejectsEmptyContent(t *testing.T) {
	env := newTestEnv(t, "comment-1")
	created := mustCreatePost(t, env, "user-1", "hello")

	if _, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, mustUserID(t, "user-2"), "   "); err == nil {
		t.Fatalf("expected error for blank comment")
	}
}
