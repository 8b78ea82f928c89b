package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/ledger"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/internal/store"
)

// abandonAfter bounds how long a task may sit pending before recovery gives
// up on it and returns the hold.
const abandonAfter = 30 * time.Minute

// Requeuer submits a stale task again, replacing any dead copy in the queue.
// It returns service.ErrStillQueued when a live copy exists.
type Requeuer interface {
	Requeue(ctx context.Context, t *model.Task) error
}

// Recovery re-enqueues tasks that stayed pending past a grace period, e.g.
// because the process died between creating the row and enqueueing it, or
// the queued copy was archived after failing to start.
type Recovery struct {
	tasks   *store.TaskStore
	ledger  *ledger.Ledger
	queue   Requeuer
	after   time.Duration
	abandon time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewRecovery(tasks *store.TaskStore, l *ledger.Ledger, queue Requeuer, after time.Duration, log zerolog.Logger) *Recovery {
	if after <= 0 {
		after = 2 * time.Minute
	}
	return &Recovery{
		tasks:   tasks,
		ledger:  l,
		queue:   queue,
		after:   after,
		abandon: max(abandonAfter, 2*after),
		now:     time.Now,
		log:     log.With().Str("component", "recovery").Logger(),
	}
}

// Run re-enqueues stale pending tasks and reports how many were queued again.
// Tasks pending longer than the abandon window are failed and released.
func (r *Recovery) Run(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.tasks.StalePending(ctx, now.Add(-r.after), 0)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for i := range stale {
		t := &stale[i]
		log := r.log.With().Str("task_id", t.ID).Logger()

		if now.Sub(t.CreatedAt) > r.abandon {
			r.giveUp(ctx, t, log)
			continue
		}

		err := r.queue.Requeue(ctx, t)
		switch {
		case err == nil:
			requeued++
			log.Info().Msg("Re-enqueued stale task")
		case errors.Is(err, service.ErrStillQueued):
			log.Debug().Msg("Stale task is still queued")
		default:
			log.Warn().Err(err).Msg("Failed to re-enqueue stale task")
		}
	}
	return requeued, nil
}

func (r *Recovery) giveUp(ctx context.Context, t *model.Task, log zerolog.Logger) {
	changed, err := r.tasks.Fail(ctx, t.ID, "Task could not be started. Your credits were returned.")
	if err != nil {
		log.Error().Err(err).Msg("Failed to fail abandoned task")
		return
	}
	if !changed {
		return
	}
	if err := r.ledger.Release(ctx, t.ID); err != nil {
		log.Error().Err(err).Msg("Failed to release hold of abandoned task")
		return
	}
	log.Warn().Dur("age", r.now().Sub(t.CreatedAt)).Msg("Abandoned task that never started")
}
