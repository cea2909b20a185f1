package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SeedUser is one directory entry applied by SeedUsers.
type SeedUser struct {
	ID   string // normalized credential id
	Name string
}

// SeedUsers upserts users as enabled. Existing rows keep their created
// time; name and enabled are overwritten.
func SeedUsers(ctx context.Context, db *sql.DB, users []SeedUser) error {
	if len(users) == 0 {
		return nil
	}
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed users begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO users(user_id, name, enabled, created_at_ms, updated_at_ms)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  name = excluded.name,
  enabled = 1,
  updated_at_ms = excluded.updated_at_ms;
`, id, u.Name, now, now); err != nil {
			return fmt.Errorf("seed user %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed users commit: %w", err)
	}
	return nil
}
