package feed

import (
	"context"
	"sync"
	"testing"
)

func TestFavoriteIdempotent(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	user := mustUserID(t, "user-2")
	target := NoteTarget(created.NoteCode)

	changed, err := env.ledger.Favorite(context.Background(), user, target)
	if err != nil || !changed {
		t.Fatalf("first favorite must change state, changed=%v err=%v", changed, err)
	}
	changed, err = env.ledger.Favorite(context.Background(), user, target)
	if err != nil {
		t.Fatalf("repeat favorite must not error: %v", err)
	}
	if changed {
		t.Fatalf("repeat favorite must be a no-op")
	}

	count, err := env.ledger.FavoriteCount(context.Background(), target)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestUnfavoriteWithoutPriorFavoriteIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	user := mustUserID(t, "user-2")

	changed, err := env.ledger.Unfavorite(context.Background(), user, NoteTarget(created.NoteCode))
	if err != nil {
		t.Fatalf("unexpected unfavorite error: %v", err)
	}
	if changed {
		t.Fatalf("unfavorite without a prior favorite must be a no-op")
	}
}

func TestFavoriteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	user := mustUserID(t, "user-2")
	target := NoteTarget(created.NoteCode)

	if _, err := env.ledger.Favorite(context.Background(), user, target); err != nil {
		t.Fatalf("unexpected favorite error: %v", err)
	}
	favorited, err := env.ledger.IsFavoritedBy(context.Background(), user, target)
	if err != nil || !favorited {
		t.Fatalf("expected favorited=true, got %v err=%v", favorited, err)
	}

	changed, err := env.ledger.Unfavorite(context.Background(), user, target)
	if err != nil || !changed {
		t.Fatalf("unfavorite must change state, changed=%v err=%v", changed, err)
	}
	favorited, err = env.ledger.IsFavoritedBy(context.Background(), user, target)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if favorited {
		t.Fatalf("expected favorited=false after unfavorite")
	}
}

func TestNoteAndCommentFavoritesAreIndependent(t *testing.T) {
	env := newTestEnv(t, "comment-1")
	created := mustCreatePost(t, env, "user-1", "hello")
	published, err := env.dispatcher.PublishComment(context.Background(), created.NoteCode, mustUserID(t, "user-2"), "remark")
	if err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	user := mustUserID(t, "user-3")

	if _, err := env.ledger.Favorite(context.Background(), user, NoteTarget(created.NoteCode)); err != nil {
		t.Fatalf("unexpected favorite error: %v", err)
	}
	if _, err := env.ledger.Favorite(context.Background(), user, CommentTarget(published.Comment.CommentCode)); err != nil {
		t.Fatalf("unexpected favorite error: %v", err)
	}

	noteCount, err := env.ledger.FavoriteCount(context.Background(), NoteTarget(created.NoteCode))
	if err != nil || noteCount != 1 {
		t.Fatalf("expected note count 1, got %d err=%v", noteCount, err)
	}
	commentCount, err := env.ledger.FavoriteCount(context.Background(), CommentTarget(published.Comment.CommentCode))
	if err != nil || commentCount != 1 {
		t.Fatalf("expected comment count 1, got %d err=%v", commentCount, err)
	}

	if _, err := env.ledger.Unfavorite(context.Background(), user, NoteTarget(created.NoteCode)); err != nil {
		t.Fatalf("unexpected unfavorite error: %v", err)
	}
	commentCount, err = env.ledger.FavoriteCount(context.Background(), CommentTarget(published.Comment.CommentCode))
	if err != nil || commentCount != 1 {
		t.Fatalf("unfavoriting the note must not touch the comment favorite, got %d err=%v", commentCount, err)
	}
}

func TestFavoriteRejectsEmptyTarget(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.ledger.Favorite(context.Background(), mustUserID(t, "user-1"), FavoriteTarget{}); err == nil {
		t.Fatalf("expected validation error for empty target")
	}
}

func TestConcurrentFavoritesCollapseToOneRow(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreatePost(t, env, "user-1", "hello")
	user := mustUserID(t, "user-2")
	target := NoteTarget(created.NoteCode)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := env.ledger.Favorite(context.Background(), user, target)
			if err != nil {
				t.Errorf("unexpected favorite error: %v", err)
				return
			}
			results <- changed
		}()
	}
	wg.Wait()
	close(results)

	changedTotal := 0
	for changed := range results {
		if changed {
			changedTotal++
		}
	}
	if changedTotal != 1 {
		t.Fatalf("exactly one concurrent favorite must report a change, got %d", changedTotal)
	}
	count, err := env.ledger.FavoriteCount(context.Background(), target)
	if err != nil || count != 1 {
		t.Fatalf("expected one stored favorite, got %d err=%v", count, err)
	}
}
