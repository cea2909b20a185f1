package store

import (
	"context"
	"errors"
	"time"

	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidUser  = errors.New("invalid user")
)

// UserDirectory answers whether a credential id may open the door.
// Unknown ids are unauthorized with a nil error; an error means the
// lookup itself failed.
type UserDirectory interface {
	Authorize(ctx context.Context, id string) (types.AuthorizationResult, error)
}

// UserAdmin manages the entries behind a UserDirectory.
type UserAdmin interface {
	AddUser(ctx context.Context, u types.User) error
	RemoveUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]types.User, error)
}

// AuditLog persists access decisions as an append-only log.
type AuditLog interface {
	Append(ctx context.Context, rec types.AuditRecord) error
}

// AuditReader returns the newest records first, at most limit of them.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]types.AuditRecord, error)
}

// AuditPruneStore deletes records older than cutoff and reports how many.
type AuditPruneStore interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
