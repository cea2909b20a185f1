package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

// UserDirectory is a map of normalized credential ids to users.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]types.User
}

var (
	_ store.UserDirectory = (*UserDirectory)(nil)
	_ store.UserAdmin     = (*UserDirectory)(nil)
)

// NewUserDirectory seeds the directory. Entries with an invalid id or an
// empty name are skipped.
func NewUserDirectory(users []types.User) *UserDirectory {
	d := &UserDirectory{users: make(map[string]types.User, len(users))}
	for _, u := range users {
		id, ok := wiegand.NormalizeID(u.ID)
		if !ok || strings.TrimSpace(u.Name) == "" {
			continue
		}
		u.ID = id
		d.users[id] = u
	}
	return d
}

func (d *UserDirectory) Authorize(_ context.Context, id string) (types.AuthorizationResult, error) {
	id, ok := wiegand.NormalizeID(id)
	if !ok {
		return types.AuthorizationResult{}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	u, found := d.users[id]
	if !found || !u.Enabled {
		return types.AuthorizationResult{}, nil
	}
	return types.AuthorizationResult{Authorized: true, Principal: u.Name}, nil
}

func (d *UserDirectory) AddUser(_ context.Context, u types.User) error {
	id, ok := wiegand.NormalizeID(u.ID)
	if !ok {
		return fmt.Errorf("%w: id %q", store.ErrInvalidUser, u.ID)
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: empty name", store.ErrInvalidUser)
	}
	u.ID = id

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.users[id]; exists {
		return fmt.Errorf("%w: %s", store.ErrUserExists, id)
	}
	d.users[id] = u
	return nil
}

func (d *UserDirectory) RemoveUser(_ context.Context, id string) error {
	norm, ok := wiegand.NormalizeID(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUserNotFound, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.users[norm]; !exists {
		return fmt.Errorf("%w: %s", store.ErrUserNotFound, norm)
	}
	delete(d.users, norm)
	return nil
}

func (d *UserDirectory) ListUsers(_ context.Context) ([]types.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
