package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

// AuditLog is an in-memory append-only log of access decisions.
type AuditLog struct {
	mu      sync.Mutex
	max     int
	records []types.AuditRecord
}

var (
	_ store.AuditLog    = (*AuditLog)(nil)
	_ store.AuditReader = (*AuditLog)(nil)

	_ store.AuditPruneStore = (*AuditLog)(nil)
)

// NewAuditLog keeps at most max records, oldest dropped first. 0 keeps all.
func NewAuditLog(max int) *AuditLog {
	return &AuditLog{max: max}
}

func (l *AuditLog) Append(_ context.Context, rec types.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if l.max > 0 && len(l.records) > l.max {
		l.records = append(l.records[:0:0], l.records[len(l.records)-l.max:]...)
	}
	return nil
}

// Records returns a copy of all records in append order.
func (l *AuditLog) Records() []types.AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *AuditLog) Recent(_ context.Context, limit int) ([]types.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.AuditRecord, 0, n)
	for i := len(l.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}

func (l *AuditLog) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	var deleted int64
	for _, r := range l.records {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return deleted, nil
}
