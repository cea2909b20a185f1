package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/wal-rus/lovepotion/internal/db"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

// AuditLog stores access decisions in access_events.
type AuditLog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var (
	_ store.AuditLog        = (*AuditLog)(nil)
	_ store.AuditReader     = (*AuditLog)(nil)
	_ store.AuditPruneStore = (*AuditLog)(nil)
)

func NewAuditLog(db *sql.DB, writer *dbpkg.Worker) *AuditLog {
	return &AuditLog{db: db, writer: writer}
}

func (s *AuditLog) Append(ctx context.Context, rec types.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var authorized any
	if rec.Authorized != nil {
		if *rec.Authorized {
			authorized = 1
		} else {
			authorized = 0
		}
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  event_id, occurred_at_ms, action, credential_id, authorized, principal, actor, reason
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, rec.Timestamp.UTC().UnixMilli(), rec.Action,
			nullable(rec.CredentialID), authorized, nullable(rec.Principal), nullable(rec.Actor),
			rec.Reason,
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit events, newest first. limit <= 0 means 50.
func (s *AuditLog) Recent(ctx context.Context, limit int) ([]types.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, occurred_at_ms, action, credential_id, authorized, principal, actor, reason
FROM access_events
ORDER BY occurred_at_ms DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		var (
			rec        types.AuditRecord
			ms         int64
			credential sql.NullString
			authorized sql.NullInt64
			principal  sql.NullString
			actor      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ms, &rec.Action, &credential, &authorized, &principal, &actor, &rec.Reason); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ms).UTC()
		if credential.Valid {
			rec.CredentialID = types.Ptr(credential.String)
		}
		if authorized.Valid {
			rec.Authorized = types.Ptr(authorized.Int64 == 1)
		}
		if principal.Valid {
			rec.Principal = types.Ptr(principal.String)
		}
		if actor.Valid {
			rec.Actor = types.Ptr(actor.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Recent rows: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes events that occurred before cutoff and returns
// the number of rows deleted. Uses idx_access_events_time.
func (s *AuditLog) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM access_events
WHERE occurred_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
