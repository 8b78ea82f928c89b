package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/store"
)

const (
	statusKeyPrefix    = "status:video:"
	statusTTL          = 10 * time.Minute
	statusTaskLimit    = 20
	statusDisplayLimit = 5
	// StatusLookback bounds which users the periodic refresh visits.
	StatusLookback = 7 * 24 * time.Hour
)

// StatusCache keeps a short per-user summary of recent video tasks in Redis.
// With a nil Redis client every read is built from the store.
type StatusCache struct {
	redis *redis.Client
	tasks *store.TaskStore
	now   func() time.Time
	log   zerolog.Logger
}

func NewStatusCache(redisClient *redis.Client, tasks *store.TaskStore, log zerolog.Logger) *StatusCache {
	return &StatusCache{
		redis: redisClient,
		tasks: tasks,
		now:   time.Now,
		log:   log.With().Str("component", "status_cache").Logger(),
	}
}

func statusKey(userID string) string {
	return statusKeyPrefix + userID
}

// Get returns the cached snapshot, building and caching it on a miss.
func (c *StatusCache) Get(ctx context.Context, userID string) (*model.VideoStatusSnapshot, error) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, statusKey(userID)).Bytes()
		switch {
		case err == nil:
			var snap model.VideoStatusSnapshot
			if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil {
				return &snap, nil
			}
		case !errors.Is(err, redis.Nil):
			c.log.Warn().Err(err).Str("user_id", userID).Msg("Status cache read failed")
		}
	}
	return c.Refresh(ctx, userID)
}

// Build assembles the snapshot from the store without touching the cache.
func (c *StatusCache) Build(ctx context.Context, userID string) (*model.VideoStatusSnapshot, error) {
	tasks, err := c.tasks.ListRecent(ctx, userID, model.VideoKinds, statusTaskLimit)
	if err != nil {
		return nil, err
	}
	now := c.now()
	snap := &model.VideoStatusSnapshot{UpdatedAt: now.UnixMilli(), Tasks: []model.VideoStatusTask{}}
	for i := range tasks {
		if len(snap.Tasks) == statusDisplayLimit {
			break
		}
		snap.Tasks = append(snap.Tasks, snapshotTask(&tasks[i], now))
	}
	return snap, nil
}

func snapshotTask(t *model.Task, now time.Time) model.VideoStatusTask {
	created := t.CreatedAt.UnixMilli()
	updated := t.UpdatedAt.UnixMilli()
	if t.UpdatedAt.IsZero() {
		updated = created
	}
	out := model.VideoStatusTask{
		ID:        t.ID,
		Status:    t.Status,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if t.Status.IsTerminal() {
		d := max(0, updated-created)
		out.DurationMs = &d
	} else {
		e := max(0, now.UnixMilli()-created)
		out.ElapsedMs = &e
	}
	return out
}

// Refresh rebuilds and stores the user's snapshot.
func (c *StatusCache) Refresh(ctx context.Context, userID string) (*model.VideoStatusSnapshot, error) {
	snap, err := c.Build(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.redis == nil {
		return snap, nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := c.redis.Set(ctx, statusKey(userID), data, statusTTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Status cache write failed")
	}
	return snap, nil
}

// Invalidate drops the user's snapshot so the next read rebuilds it.
func (c *StatusCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, statusKey(userID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Status cache invalidate failed")
	}
}

// RefreshActive rebuilds the snapshot of every user with a video task
// updated within StatusLookback. Per-user failures are logged and skipped.
func (c *StatusCache) RefreshActive(ctx context.Context) (int, error) {
	users, err := c.tasks.UsersWithRecent(ctx, model.VideoKinds, c.now().Add(-StatusLookback))
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, userID := range users {
		if _, err := c.Refresh(ctx, userID); err != nil {
			c.log.Error().Err(err).Str("user_id", userID).Msg("Failed to refresh status snapshot")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
