package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/memory"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

var cliEpoch = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type usersFixture struct {
	cmd   *usersCmd
	dir   *memory.UserDirectory
	audit *memory.AuditLog
	out   *bytes.Buffer
}

func newUsersCmd(t *testing.T, seed []types.User) usersFixture {
	t.Helper()
	t.Setenv("USER", "ops")
	f := usersFixture{
		dir:   memory.NewUserDirectory(seed),
		audit: memory.NewAuditLog(0),
		out:   &bytes.Buffer{},
	}
	f.cmd = &usersCmd{
		admin:  f.dir,
		audit:  f.audit,
		clock:  clock.Fake(cliEpoch),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:    f.out,
	}
	return f
}

func TestUsersCommand_AddListRemove(t *testing.T) {
	ctx := context.Background()
	f := newUsersCmd(t, nil)

	require.NoError(t, f.cmd.run(ctx, []string{"add", "DEADBEEF", "Alice", "Smith"}))
	require.NoError(t, f.cmd.run(ctx, []string{"add", "--disabled", "ab12", "bob"}))

	f.out.Reset()
	require.NoError(t, f.cmd.run(ctx, []string{"ls"}))
	assert.Equal(t, "ab12\tbob (disabled)\ndeadbeef\tAlice Smith\n", f.out.String())

	require.NoError(t, f.cmd.run(ctx, []string{"rm", "ab12"}))
	err := f.cmd.run(ctx, []string{"rm", "ab12"})
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestUsersCommand_ChangesAreAudited(t *testing.T) {
	ctx := context.Background()
	f := newUsersCmd(t, nil)

	require.NoError(t, f.cmd.run(ctx, []string{"add", "DEADBEEF", "Alice"}))
	require.NoError(t, f.cmd.run(ctx, []string{"rm", "--actor", "carol", "deadbeef"}))
	require.Error(t, f.cmd.run(ctx, []string{"rm", "deadbeef"}))
	require.NoError(t, f.cmd.run(ctx, []string{"ls"}))

	recs := f.audit.Records()
	require.Len(t, recs, 2, "failed and read-only commands are not audited")

	add := recs[0]
	assert.Equal(t, types.ActionAddUser, add.Action)
	assert.Equal(t, "ops", *add.Actor, "actor defaults to $USER")
	assert.Equal(t, "deadbeef", *add.CredentialID)
	assert.Equal(t, "Alice", *add.Principal)
	assert.Equal(t, cliEpoch, add.Timestamp)
	assert.Nil(t, add.Authorized)

	rm := recs[1]
	assert.Equal(t, types.ActionRemoveUser, rm.Action)
	assert.Equal(t, "carol", *rm.Actor)
	assert.Equal(t, "deadbeef", *rm.CredentialID)
	assert.Equal(t, "Alice", *rm.Principal)
}

func TestUsersCommand_Import(t *testing.T) {
	ctx := context.Background()
	f := newUsersCmd(t, []types.User{{ID: "deadbeef", Name: "alice", Enabled: true}})

	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte("# members\ndeadbeef:alice\n12ab:bob\n"), 0o644))

	require.NoError(t, f.cmd.run(ctx, []string{"import", path}))
	assert.Contains(t, f.out.String(), "imported 1 users, 1 already present")

	res, err := f.dir.Authorize(ctx, "12ab")
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.Equal(t, "bob", res.Principal)

	recs := f.audit.Records()
	require.Len(t, recs, 1, "only the new user is audited")
	assert.Equal(t, "12ab", *recs[0].CredentialID)
}

func TestUsersCommand_BadInput(t *testing.T) {
	ctx := context.Background()
	f := newUsersCmd(t, nil)

	assert.Error(t, f.cmd.run(ctx, []string{"add", "deadbeef"}))
	assert.ErrorIs(t, f.cmd.run(ctx, []string{"add", "zz", "eve"}), store.ErrInvalidUser)
	assert.Error(t, f.cmd.run(ctx, []string{"rm"}))
	assert.Error(t, f.cmd.run(ctx, []string{"frobnicate"}))
	assert.Empty(t, f.audit.Records())
}
