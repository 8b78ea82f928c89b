package poller

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/model"
)

const (
	DefaultMaxErrors = 5
	timedOutMessage  = "Generation timed out"
)

// Fetcher reads and cancels tasks on the server.
type Fetcher interface {
	Status(ctx context.Context, taskID string) (*model.TaskStatusResponse, error)
	Cancel(ctx context.Context, taskID string) error
}

// Result is how a watch ended. LocalTimeout means the client gave up; the
// server-side task was not touched and may still finish.
type Result struct {
	Status       model.TaskStatus
	URL          string
	ErrorMessage string
	LocalTimeout bool
}

type Poller struct {
	fetcher    Fetcher
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	newBackOff func() backoff.BackOff
	maxErrors  int
	log        zerolog.Logger
}

type Option func(*Poller)

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithSleeper replaces the wait between polls.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) { p.sleep = sleep }
}

func WithMaxErrors(n int) Option {
	return func(p *Poller) { p.maxErrors = n }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Poller) { p.log = log }
}

func New(f Fetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:    f,
		now:        time.Now,
		sleep:      sleepContext,
		newBackOff: errorBackOff,
		maxErrors:  DefaultMaxErrors,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// errorBackOff is the wait schedule after consecutive transient failures:
// 2s doubling up to 30s, without jitter.
func errorBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	return b
}

// Watch polls taskID until it reaches a terminal state, the category ceiling
// passes, or ctx is done. Exactly one request is in flight at a time.
// onUpdate, when set, sees every successful status read.
func (p *Poller) Watch(ctx context.Context, taskID string, cat model.Category, onUpdate func(*model.TaskStatusResponse)) (*Result, error) {
	start := p.now()
	bo := p.newBackOff()
	failures := 0

	for {
		elapsed := p.now().Sub(start)
		if !ShouldContinue(elapsed, cat) {
			p.log.Warn().Str("task_id", taskID).Dur("elapsed", elapsed).Msg("Gave up watching task")
			return &Result{LocalTimeout: true, ErrorMessage: timedOutMessage}, nil
		}

		st, err := p.fetcher.Status(ctx, taskID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !IsTransient(err) {
				return nil, err
			}
			failures++
			if failures >= p.maxErrors {
				return nil, errors.New(FriendlyMessage(err.Error()))
			}
			wait := bo.NextBackOff()
			p.log.Debug().Err(err).Str("task_id", taskID).Int("failures", failures).Dur("retry_in", wait).Msg("Transient poll failure")
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		failures = 0
		bo.Reset()
		if onUpdate != nil {
			onUpdate(st)
		}

		switch st.Status {
		case model.TaskStatusCompleted:
			return &Result{Status: st.Status, URL: st.URL}, nil
		case model.TaskStatusFailed, model.TaskStatusCancelled:
			return &Result{Status: st.Status, ErrorMessage: FriendlyMessage(st.ErrorMessage)}, nil
		}

		if err := p.sleep(ctx, Interval(p.now().Sub(start), cat)); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
