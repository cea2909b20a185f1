package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	sqlitestore "github.com/wal-rus/lovepotion/internal/lovepotion/store/sqlite"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

func TestUserStore_AuthorizeKnownUser(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	us := sqlitestore.NewUserStore(conn, w)
	ctx := context.Background()

	if err := us.AddUser(ctx, types.User{ID: "DEADBEEF", Name: "alice", Enabled: true}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	for _, id := range []string{"deadbeef", "DeadBeef", "00deadbeef"} {
		res, err := us.Authorize(ctx, id)
		if err != nil {
			t.Fatalf("Authorize(%s): %v", id, err)
		}
		if !res.Authorized || res.Principal != "alice" {
			t.Errorf("Authorize(%s) = %+v, want alice", id, res)
		}
	}
}

func TestUserStore_AuthorizeUnknownAndDisabled(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	us := sqlitestore.NewUserStore(conn, w)
	ctx := context.Background()

	if err := us.AddUser(ctx, types.User{ID: "cafe", Name: "bob", Enabled: false}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	for _, id := range []string{"cafe", "12345678", "not-hex"} {
		res, err := us.Authorize(ctx, id)
		if err != nil {
			t.Fatalf("Authorize(%s): %v", id, err)
		}
		if res.Authorized || res.Principal != "" {
			t.Errorf("Authorize(%s) = %+v, want unauthorized", id, res)
		}
	}
}

func TestUserStore_AddRemoveList(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	us := sqlitestore.NewUserStore(conn, w)
	ctx := context.Background()

	if err := us.AddUser(ctx, types.User{ID: "b2", Name: "carol", Enabled: true}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := us.AddUser(ctx, types.User{ID: "a1", Name: "dave", Enabled: true}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := us.AddUser(ctx, types.User{ID: "A1", Name: "dup", Enabled: true}); !errors.Is(err, store.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
	if err := us.AddUser(ctx, types.User{ID: "xyz", Name: "bad"}); !errors.Is(err, store.ErrInvalidUser) {
		t.Errorf("expected ErrInvalidUser, got %v", err)
	}

	users, err := us.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != "a1" || users[1].ID != "b2" {
		t.Fatalf("unexpected users: %+v", users)
	}

	if err := us.RemoveUser(ctx, "A1"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if err := us.RemoveUser(ctx, "a1"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
