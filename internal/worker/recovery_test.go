package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/mediagen/internal/database"
	"github.com/makeasinger/mediagen/internal/ledger"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/internal/store"
)

type scriptedQueue struct {
	errs     map[string]error
	enqueued []string
}

func (q *scriptedQueue) Requeue(_ context.Context, t *model.Task) error {
	if err := q.errs[t.ID]; err != nil {
		return err
	}
	q.enqueued = append(q.enqueued, t.ID)
	return nil
}

func TestRecovery_RequeuesStalePending(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	tasks := store.NewTaskStore(db)
	ctx := context.Background()
	now := time.Now()

	create := func(id string, status model.TaskStatus, age time.Duration) {
		require.NoError(t, tasks.Create(ctx, &model.Task{
			ID: id, UserID: "u1", Kind: model.KindSoraVideo, Status: status,
			CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age),
		}))
	}
	create("stale", model.TaskStatusPending, 5*time.Minute)
	create("queued", model.TaskStatusPending, 6*time.Minute)
	create("broken", model.TaskStatusPending, 7*time.Minute)
	create("fresh", model.TaskStatusPending, 30*time.Second)
	create("running", model.TaskStatusProcessing, 10*time.Minute)

	q := &scriptedQueue{errs: map[string]error{
		"queued": service.ErrStillQueued,
		"broken": errors.New("redis: connection refused"),
	}}
	r := NewRecovery(tasks, ledger.New(db), q, 2*time.Minute, zerolog.Nop())

	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"stale"}, q.enqueued)
}

func TestRecovery_AbandonsTaskThatNeverStarts(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	tasks := store.NewTaskStore(db)
	credits := ledger.New(db)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, credits.Credit(ctx, "u1", 100))
	require.NoError(t, tasks.Create(ctx, &model.Task{
		ID: "stuck", UserID: "u1", Kind: model.KindSoraVideo, Status: model.TaskStatusPending,
		Cost: 30, CreatedAt: old, UpdatedAt: old,
	}))
	require.NoError(t, credits.Reserve(ctx, "u1", "stuck", 30))

	q := &scriptedQueue{}
	r := NewRecovery(tasks, credits, q, 2*time.Minute, zerolog.Nop())

	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, q.enqueued)

	got, err := tasks.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	kind, err := credits.Settlement(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, ledger.KindRelease, kind)
	acct, err := credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, acct.Held)
	assert.EqualValues(t, 100, acct.Balance)

	// a second run finds nothing left to do
	n, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewRecovery_Defaults(t *testing.T) {
	r := NewRecovery(nil, nil, nil, 0, zerolog.Nop())
	assert.Equal(t, 2*time.Minute, r.after)
	assert.Equal(t, abandonAfter, r.abandon)

	r = NewRecovery(nil, nil, nil, time.Hour, zerolog.Nop())
	assert.Equal(t, 2*time.Hour, r.abandon)
}
