package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/lovepotion/service"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/memory"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

func TestAuditPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewAuditPruner(memory.NewAuditLog(0), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, clock.Fake(epoch), nil)

	pruner.Start(context.Background())
	pruner.Stop()
}

func TestAuditPruner_PrunesOnStartAndEachInterval(t *testing.T) {
	clk := clock.Fake(epoch)
	log := memory.NewAuditLog(0)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, types.NewAuditRecord(epoch.AddDate(0, 0, -40), types.ActionRFID)))
	require.NoError(t, log.Append(ctx, types.NewAuditRecord(epoch.AddDate(0, 0, -1), types.ActionRFID)))

	pruner := service.NewAuditPruner(log, service.PrunerConfig{RetentionDays: 30, IntervalHours: 6}, clk, nil)
	pruner.Start(ctx)
	defer pruner.Stop()

	require.Eventually(t, func() bool { return len(log.Records()) == 1 }, 2*time.Second, time.Millisecond)

	clk.WaitForTimers(1) // ticker armed
	require.NoError(t, log.Append(ctx, types.NewAuditRecord(epoch.AddDate(0, 0, -31), types.ActionRFID)))
	clk.Advance(6 * time.Hour)

	require.Eventually(t, func() bool { return len(log.Records()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, epoch.AddDate(0, 0, -1), log.Records()[0].Timestamp)
}

func TestAuditPruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewAuditPruner(memory.NewAuditLog(0), service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, clock.Fake(epoch), nil)

	pruner.Start(context.Background())
	pruner.Stop()
	pruner.Stop()
}

func TestAuditPruner_StopBeforeStart(t *testing.T) {
	pruner := service.NewAuditPruner(memory.NewAuditLog(0), service.PrunerConfig{RetentionDays: 1}, clock.Fake(epoch), nil)
	pruner.Stop()
}
