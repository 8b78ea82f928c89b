package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/mediagen/internal/database"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/store"
)

func newStatusCache(t *testing.T) (*StatusCache, *store.TaskStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := database.OpenMemory()
	require.NoError(t, err)
	tasks := store.NewTaskStore(db)
	return NewStatusCache(rdb, tasks, zerolog.Nop()), tasks, mr
}

func seedTask(t *testing.T, s *store.TaskStore, id, user string, kind model.TaskKind, status model.TaskStatus, created, updated time.Time) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &model.Task{
		ID: id, UserID: user, Kind: kind, Status: status, CreatedAt: created, UpdatedAt: updated,
	}))
}

func TestStatusCache_BuildSnapshot(t *testing.T) {
	c, tasks, _ := newStatusCache(t)
	now := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time { return now }

	seedTask(t, tasks, "done", "u1", model.KindSoraVideo, model.TaskStatusCompleted, now.Add(-10*time.Minute), now.Add(-7*time.Minute))
	seedTask(t, tasks, "run", "u1", model.KindSoraVideo, model.TaskStatusProcessing, now.Add(-2*time.Minute), now.Add(-time.Minute))
	seedTask(t, tasks, "img", "u1", model.KindGeminiImage, model.TaskStatusCompleted, now, now)

	snap, err := c.Build(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, now.UnixMilli(), snap.UpdatedAt)

	assert.Equal(t, "run", snap.Tasks[0].ID)
	require.NotNil(t, snap.Tasks[0].ElapsedMs)
	assert.EqualValues(t, 2*time.Minute/time.Millisecond, *snap.Tasks[0].ElapsedMs)
	assert.Nil(t, snap.Tasks[0].DurationMs)

	assert.Equal(t, "done", snap.Tasks[1].ID)
	require.NotNil(t, snap.Tasks[1].DurationMs)
	assert.EqualValues(t, 3*time.Minute/time.Millisecond, *snap.Tasks[1].DurationMs)
}

func TestStatusCache_DisplaysAtMostFive(t *testing.T) {
	c, tasks, _ := newStatusCache(t)
	now := time.Now()
	for i := 0; i < 8; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		seedTask(t, tasks, string(rune('a'+i)), "u1", model.KindSoraVideo, model.TaskStatusPending, ts, ts)
	}

	snap, err := c.Build(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, snap.Tasks, statusDisplayLimit)
	assert.Equal(t, "h", snap.Tasks[0].ID)
}

func TestStatusCache_GetCachesWithTTL(t *testing.T) {
	c, tasks, mr := newStatusCache(t)
	ctx := context.Background()
	now := time.Now()
	seedTask(t, tasks, "v1", "u1", model.KindSoraVideo, model.TaskStatusPending, now, now)

	first, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, first.Tasks, 1)
	assert.True(t, mr.Exists("status:video:u1"))
	assert.Equal(t, statusTTL, mr.TTL("status:video:u1"))

	seedTask(t, tasks, "v2", "u1", model.KindSoraVideo, model.TaskStatusPending, now.Add(time.Second), now.Add(time.Second))
	cached, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cached.Tasks, 1, "served from cache")

	c.Invalidate(ctx, "u1")
	fresh, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, fresh.Tasks, 2)

	mr.FastForward(statusTTL + time.Second)
	assert.False(t, mr.Exists("status:video:u1"))
}

func TestStatusCache_RefreshActive(t *testing.T) {
	c, tasks, mr := newStatusCache(t)
	now := time.Now()
	seedTask(t, tasks, "recent", "u1", model.KindSoraVideo, model.TaskStatusCompleted, now.Add(-time.Hour), now.Add(-time.Hour))
	seedTask(t, tasks, "stale", "u2", model.KindSoraVideo, model.TaskStatusCompleted, now.Add(-30*24*time.Hour), now.Add(-30*24*time.Hour))
	seedTask(t, tasks, "image", "u3", model.KindGeminiImage, model.TaskStatusCompleted, now, now)

	n, err := c.RefreshActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("status:video:u1"))
	assert.False(t, mr.Exists("status:video:u2"))
	assert.False(t, mr.Exists("status:video:u3"))
}
