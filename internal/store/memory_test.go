package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"example.com/microblog/internal/models"
	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/storetest"
	"github.com/google/uuid"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.StoreInterface {
		return store.NewMemory()
	})
}

// returned accounts are copies; mutating them must not leak into the store
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	id, err := st.CreateAccount(ctx, models.Account{Username: "john", Credential: []byte("secret")})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	a, _ := st.FindAccountByID(ctx, id)
	a.Username = "mallory"
	a.Credential[0] = 'X'

	again, _ := st.FindAccountByID(ctx, id)
	if again.Username != "john" || string(again.Credential) != "secret" {
		t.Fatalf("store state leaked through returned account: %+v", again)
	}
}

func TestMockStoreFail_ReportsUnavailable(t *testing.T) {
	st := &store.MockStoreFail{}
	ctx := context.Background()

	_, err := st.CreatePost(ctx, uuid.Nil, "x", time.Now())
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	var ue *store.UnavailableError
	if !errors.As(err, &ue) || ue.Op != "create post" {
		t.Fatalf("expected UnavailableError with op, got %#v", err)
	}
}

func TestUnavailable_NilStaysNil(t *testing.T) {
	if err := store.Unavailable("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	cause := errors.New("connection reset")
	err := store.Unavailable("op", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("driver error must stay reachable")
	}
}
