package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type testEnv struct {
	db         *gorm.DB
	store      *Store
	dispatcher *Dispatcher
	timeline   *Timeline
	ledger     *Ledger
	events     *EventBus
	now        *time.Time
}

func (e *testEnv) clock() time.Time {
	return *e.now
}

func (e *testEnv) advance(d time.Duration) {
	*e.now = e.now.Add(d)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:coursefeed_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Note{}, &Publication{}, &Comment{}, &Favorite{}, &Counter{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := SeedCounters(db); err != nil {
		t.Fatalf("failed to seed counters: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, commentIDs ...string) *testEnv {
	t.Helper()

	db := newTestDB(t)
	now := time.Unix(1700000600, 0).UTC()
	env := &testEnv{db: db, events: NewEventBus(), now: &now}

	var ids IDProvider = NewUUIDProvider()
	if len(commentIDs) > 0 {
		ids = &staticIDGenerator{ids: commentIDs}
	}

	var err error
	env.store, err = NewStore(StoreConfig{Database: db, Clock: env.clock, Events: env.events})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	env.dispatcher, err = NewDispatcher(DispatcherConfig{Database: db, Clock: env.clock, IDProvider: ids, Events: env.events})
	if err != nil {
		t.Fatalf("failed to construct dispatcher: %v", err)
	}
	env.timeline, err = NewTimeline(TimelineConfig{Database: db, Visibility: DefaultVisibility{}, Clock: env.clock})
	if err != nil {
		t.Fatalf("failed to construct timeline: %v", err)
	}
	env.ledger, err = NewLedger(LedgerConfig{Database: db, Clock: env.clock})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	return env
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCreatePost(t *testing.T, env *testEnv, owner, body string) CreatedNote {
	t.Helper()
	created, err := env.store.CreateNote(context.Background(), CreateNoteRequest{
		NoteType: NoteTypeSocialPost,
		Owner:    mustUserID(t, owner),
		Body:     body,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return created
}

func mustCreateDocument(t *testing.T, env *testEnv, owner, scope, path string) CreatedNote {
	t.Helper()
	created, err := env.store.CreateNote(context.Background(), CreateNoteRequest{
		NoteType:     NoteTypeDocument,
		Owner:        mustUserID(t, owner),
		OwnerScope:   scope,
		ResourcePath: path,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return created
}

func pubCodes(publications []Publication) []int64 {
	codes := make([]int64, 0, len(publications))
	for _, publication := range publications {
		codes = append(codes, publication.PubCode)
	}
	return codes
}

func equalCodes(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
