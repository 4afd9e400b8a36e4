package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

func openTemp(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, ctx
}

func TestMigrations_AreIdempotentAndReversible(t *testing.T) {
	s, ctx := openTemp(t)
	require.NoError(t, ApplyMigrations(ctx, s.db))

	for _, table := range []string{"locks", "rollups"} {
		var name string
		err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	require.NoError(t, RollbackAll(ctx, s.db))
	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'locks'`).Scan(&count))
	assert.Zero(t, count)
}

func TestLock_LastWriterWins(t *testing.T) {
	s, ctx := openTemp(t)
	lock := s.Lock("leader")

	_, ok, err := lock.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	require.NoError(t, lock.Save(ctx, models.LockRecord{OwnerID: "a", LastHeartbeatAt: t0}))
	require.NoError(t, lock.Save(ctx, models.LockRecord{OwnerID: "b", LastHeartbeatAt: t0.Add(time.Second)}))

	rec, ok, err := lock.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", rec.OwnerID)
	assert.True(t, rec.LastHeartbeatAt.Equal(t0.Add(time.Second)))

	// Other lock names are independent
	_, ok, err = s.Lock("other").Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_ClearOnlyByOwner(t *testing.T) {
	s, ctx := openTemp(t)
	lock := s.Lock("leader")
	require.NoError(t, lock.Save(ctx, models.LockRecord{OwnerID: "a", LastHeartbeatAt: time.Now()}))

	require.NoError(t, lock.Clear(ctx, "b"))
	_, ok, err := lock.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Clear(ctx, "a"))
	_, ok, err = lock.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.DeleteLock(ctx, "leader", "a"), ErrNotFound)
}

func TestRollups_InsertListTotals(t *testing.T) {
	s, ctx := openTemp(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		id, err := s.InsertRollup(ctx, models.Rollup{
			OwnerID:     "a",
			CollectedAt: start.Add(time.Duration(i) * time.Minute),
			Pages:       2,
			Stats:       models.Stats{Clicks: int64(i), Blocked: 1, SessionStartTime: start},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}

	rollups, err := s.ListRollups(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, int64(3), rollups[0].Stats.Clicks)
	assert.Equal(t, int64(2), rollups[1].Stats.Clicks)
	assert.True(t, rollups[0].Stats.SessionStartTime.Equal(start))
	assert.Equal(t, 2, rollups[0].Pages)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), totals.Clicks)
	assert.Equal(t, int64(3), totals.Blocked)
}

func TestRollups_EmptyHistory(t *testing.T) {
	s, ctx := openTemp(t)

	rollups, err := s.ListRollups(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, rollups)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Zero(t, totals.Clicks)
}
