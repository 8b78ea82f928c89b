package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/database"
	"github.com/makeasinger/mediagen/internal/model"
)

func newTestStore(t *testing.T) *TaskStore {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return NewTaskStore(db)
}

func seed(t *testing.T, s *TaskStore, id, user string, kind model.TaskKind, status model.TaskStatus, created time.Time) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &model.Task{
		ID:        id,
		UserID:    user,
		Kind:      kind,
		Status:    status,
		Cost:      10,
		CreatedAt: created,
		UpdatedAt: created,
	}))
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrTaskNotFound)
}

func TestTransitions_TerminalIsAbsorbing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "t1", "u1", model.KindSoraVideo, model.TaskStatusPending, time.Now())

	changed, err := s.MarkProcessing(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkProcessing(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, changed, "processing cannot re-enter processing")

	changed, err = s.Cancel(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Complete(ctx, "t1", "https://cdn/x.mp4", "")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Fail(ctx, "t1", "boom")
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.UpdateProgress(ctx, "t1", 50))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, got.Status)
	assert.Empty(t, got.ResultURL)
	assert.Zero(t, got.Progress)
	assert.NotNil(t, got.CompletedAt)
}

func TestComplete_FromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "t1", "u1", model.KindGeminiImage, model.TaskStatusPending, time.Now())

	changed, err := s.Complete(ctx, "t1", "data:image/png;base64,AAAA", `{"k":"v"}`)
	require.NoError(t, err)
	assert.True(t, changed)

	got, _ := s.Get(ctx, "t1")
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, map[string]any{"k": "v"}, got.DecodeMeta())
}

func TestComplete_RejectsEmptyURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "t1", "u1", model.KindGeminiImage, model.TaskStatusProcessing, time.Now())

	changed, err := s.Complete(ctx, "t1", "", "")
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.False(t, changed)

	got, _ := s.Get(ctx, "t1")
	assert.Equal(t, model.TaskStatusProcessing, got.Status)
}

func TestListPending_OnlyOpenForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seed(t, s, "a", "u1", model.KindSoraVideo, model.TaskStatusPending, now.Add(-2*time.Minute))
	seed(t, s, "b", "u1", model.KindSoraImage, model.TaskStatusProcessing, now.Add(-time.Minute))
	seed(t, s, "c", "u1", model.KindSoraImage, model.TaskStatusCompleted, now)
	seed(t, s, "d", "u2", model.KindSoraImage, model.TaskStatusPending, now)

	tasks, err := s.ListPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[0].ID)
	assert.Equal(t, "a", tasks[1].ID)
}

func TestListRecent_FiltersKinds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"v1", "v2", "v3"} {
		seed(t, s, id, "u1", model.KindSoraVideo, model.TaskStatusCompleted, now.Add(time.Duration(i)*time.Second))
	}
	seed(t, s, "img", "u1", model.KindGeminiImage, model.TaskStatusCompleted, now.Add(time.Hour))

	tasks, err := s.ListRecent(ctx, "u1", model.VideoKinds, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "v3", tasks[0].ID)
	assert.Equal(t, "v2", tasks[1].ID)
}

func TestStalePendingAndUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seed(t, s, "old", "u1", model.KindSoraVideo, model.TaskStatusPending, now.Add(-10*time.Minute))
	seed(t, s, "new", "u2", model.KindSoraVideo, model.TaskStatusPending, now)
	seed(t, s, "done", "u3", model.KindSoraVideo, model.TaskStatusCompleted, now.Add(-10*time.Minute))

	stale, err := s.StalePending(ctx, now.Add(-2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	users, err := s.UsersWithRecent(ctx, model.VideoKinds, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, users)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "t1", "u1", model.KindCharacterCard, model.TaskStatusFailed, time.Now())

	require.NoError(t, s.Delete(ctx, "t1"))
	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, apperr.ErrTaskNotFound)
}
