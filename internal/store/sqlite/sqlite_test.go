package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/storetest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return st
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.StoreInterface {
		return openMemory(t)
	})
}

// migrations are re-entrant and data survives a reopen
func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "microblog.db")

	st, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	id := storetest.MustAccount(t, st, "john")
	storetest.MustPost(t, st, id, "persisted", time.Now())
	st.Close()

	if err := Migrate(ctx, path); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}

	st, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	posts, err := st.ListPostsByAuthor(ctx, id, models.Page{Limit: 10})
	if err != nil || len(posts) != 1 || posts[0].Body != "persisted" {
		t.Fatalf("expected persisted post, got %v, %v", posts, err)
	}
}

// the CHECK constraint backs up the application-level self-follow guard
func TestFollows_CheckConstraint(t *testing.T) {
	st := openMemory(t)
	defer st.Close()
	id := storetest.MustAccount(t, st, "john")

	_, err := st.db.Exec(`INSERT INTO follows (follower_id, followed_id) VALUES (?, ?)`, id, id)
	if constraintOf(err) != checkViolation {
		t.Fatalf("expected check violation, got %v", err)
	}
}

func TestClosedStore_ReportsUnavailable(t *testing.T) {
	st := openMemory(t)
	st.Close()

	_, err := st.FindAccountByUsername(context.Background(), "john")
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
