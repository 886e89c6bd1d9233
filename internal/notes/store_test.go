package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, clock func() time.Time) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := NewStore(StoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustRoomID(t *testing.T, raw string) RoomID {
	t.Helper()
	roomID, err := NewRoomID(raw)
	if err != nil {
		t.Fatalf("failed to build room id %q: %v", raw, err)
	}
	return roomID
}

func TestGetReturnsNotFoundForUnknownRoom(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.Get(context.Background(), mustRoomID(t, "missing"))
	if !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound, got %v", err)
	}
}

func TestUpsertCreatesNoteWithDefaultTitle(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	store := newTestStore(t, func() time.Time { return fixed })
	roomID := mustRoomID(t, "abc123")

	note, err := store.Upsert(context.Background(), roomID, "", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.Title != DefaultTitle {
		t.Fatalf("expected default title, got %q", note.Title)
	}
	if note.Content != "hello" {
		t.Fatalf("unexpected content %q", note.Content)
	}
	if note.CreatedAtSeconds != fixed.Unix() || note.UpdatedAtSeconds != fixed.Unix() {
		t.Fatalf("expected createdAt == updatedAt == %d, got %d/%d",
			fixed.Unix(), note.CreatedAtSeconds, note.UpdatedAtSeconds)
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)
	roomID := mustRoomID(t, "abc123")

	written, err := store.Upsert(context.Background(), roomID, "My Title", "body text")
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	read, err := store.Get(context.Background(), roomID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if read.Title != written.Title || read.Content != written.Content {
		t.Fatalf("round trip mismatch: wrote %q/%q, read %q/%q",
			written.Title, written.Content, read.Title, read.Content)
	}
}

func TestUpsertKeepsTitleWhenBlank(t *testing.T) {
	store := newTestStore(t, nil)
	roomID := mustRoomID(t, "abc123")

	if _, err := store.Upsert(context.Background(), roomID, "Keep Me", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	note, err := store.Upsert(context.Background(), roomID, "  ", "v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.Title != "Keep Me" {
		t.Fatalf("blank title should not overwrite, got %q", note.Title)
	}
	if note.Content != "v2" {
		t.Fatalf("content should overwrite, got %q", note.Content)
	}
}

func TestUpsertOverwritesTitleWhenProvided(t *testing.T) {
	store := newTestStore(t, nil)
	roomID := mustRoomID(t, "abc123")

	if _, err := store.Upsert(context.Background(), roomID, "Old", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	note, err := store.Upsert(context.Background(), roomID, "New", "v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.Title != "New" {
		t.Fatalf("expected title to overwrite, got %q", note.Title)
	}
}

func TestUpsertAdvancesUpdatedAtStrictly(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	store := newTestStore(t, func() time.Time { return fixed })
	roomID := mustRoomID(t, "abc123")

	first, err := store.Upsert(context.Background(), roomID, "T", "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.Upsert(context.Background(), roomID, "T", "v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.UpdatedAtSeconds <= first.UpdatedAtSeconds {
		t.Fatalf("updatedAt must advance strictly: %d then %d",
			first.UpdatedAtSeconds, second.UpdatedAtSeconds)
	}
	if second.CreatedAtSeconds != first.CreatedAtSeconds {
		t.Fatalf("createdAt must not change on update")
	}
}

func TestConcurrentUpsertsLastWriteWinsWithoutCorruption(t *testing.T) {
	store := newTestStore(t, nil)
	roomID := mustRoomID(t, "abc123")

	const rounds = 20
	var wg sync.WaitGroup
	writers := []string{"x", "y"}
	for _, writer := range writers {
		wg.Add(1)
		go func(prefix string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				content := fmt.Sprintf("%s-%d", prefix, i)
				if _, err := store.Upsert(context.Background(), roomID, "", content); err != nil {
					t.Errorf("upsert failed: %v", err)
					return
				}
			}
		}(writer)
	}
	wg.Wait()

	note, err := store.Get(context.Background(), roomID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	wantX := fmt.Sprintf("x-%d", rounds-1)
	wantY := fmt.Sprintf("y-%d", rounds-1)
	if note.Content != wantX && note.Content != wantY {
		t.Fatalf("stored content %q is not any writer's final value", note.Content)
	}
}
