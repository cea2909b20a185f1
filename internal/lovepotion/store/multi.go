package store

import (
	"context"
	"errors"

	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

// MultiAuditLog appends to every log in order. All logs are attempted even
// when one fails; the failures are joined.
type MultiAuditLog []AuditLog

func (m MultiAuditLog) Append(ctx context.Context, rec types.AuditRecord) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
