package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/wal-rus/lovepotion/internal/db"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

type UserStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var (
	_ store.UserDirectory = (*UserStore)(nil)
	_ store.UserAdmin     = (*UserStore)(nil)
)

func NewUserStore(db *sql.DB, writer *dbpkg.Worker) *UserStore {
	return &UserStore{db: db, writer: writer}
}

// Authorize: "authorized" means a row exists and is enabled.
func (s *UserStore) Authorize(ctx context.Context, id string) (types.AuthorizationResult, error) {
	id, ok := wiegand.NormalizeID(id)
	if !ok {
		return types.AuthorizationResult{}, nil
	}

	var name string
	var enabled int
	err := s.db.QueryRowContext(ctx, `
SELECT name, enabled FROM users WHERE user_id = ?;
`, id).Scan(&name, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AuthorizationResult{}, nil
	}
	if err != nil {
		return types.AuthorizationResult{}, fmt.Errorf("Authorize query: %w", err)
	}
	if enabled != 1 {
		return types.AuthorizationResult{}, nil
	}
	return types.AuthorizationResult{Authorized: true, Principal: name}, nil
}

func (s *UserStore) AddUser(ctx context.Context, u types.User) error {
	id, ok := wiegand.NormalizeID(u.ID)
	if !ok {
		return fmt.Errorf("%w: id %q", store.ErrInvalidUser, u.ID)
	}
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return fmt.Errorf("%w: empty name", store.ErrInvalidUser)
	}
	var enabled int
	if u.Enabled {
		enabled = 1
	}
	ms := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO users(user_id, name, enabled, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?);
`, id, name, enabled, ms, ms)
		if err != nil {
			return fmt.Errorf("AddUser insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", store.ErrUserExists, id)
		}
		return nil
	})
}

func (s *UserStore) RemoveUser(ctx context.Context, id string) error {
	norm, ok := wiegand.NormalizeID(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUserNotFound, id)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?;`, norm)
		if err != nil {
			return fmt.Errorf("RemoveUser delete: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", store.ErrUserNotFound, norm)
		}
		return nil
	})
}

func (s *UserStore) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, name, enabled FROM users ORDER BY user_id;
`)
	if err != nil {
		return nil, fmt.Errorf("ListUsers query: %w", err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		var u types.User
		var enabled int
		if err := rows.Scan(&u.ID, &u.Name, &enabled); err != nil {
			return nil, fmt.Errorf("ListUsers scan: %w", err)
		}
		u.Enabled = enabled == 1
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListUsers rows: %w", err)
	}
	return out, nil
}
