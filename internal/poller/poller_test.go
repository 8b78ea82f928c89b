package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/mediagen/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

type step struct {
	status model.TaskStatus
	url    string
	err    error
}

type scriptedFetcher struct {
	clock    *fakeClock
	mu       sync.Mutex
	steps    []step
	calls    []time.Time
	cancels  int
	fallback step
}

func (f *scriptedFetcher) Status(_ context.Context, id string) (*model.TaskStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, f.clock.Now())
	s := f.fallback
	if len(f.steps) > 0 {
		s, f.steps = f.steps[0], f.steps[1:]
	}
	if s.err != nil {
		return nil, s.err
	}
	return &model.TaskStatusResponse{ID: id, Status: s.status, URL: s.url}, nil
}

func (f *scriptedFetcher) Cancel(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func newHarness(steps ...step) (*fakeClock, *scriptedFetcher, *[]time.Duration, *Poller) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := &scriptedFetcher{clock: clock, steps: steps, fallback: step{status: model.TaskStatusProcessing}}
	var sleeps []time.Duration
	p := New(f,
		WithClock(clock.Now),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return clock.Sleep(ctx, d)
		}),
	)
	return clock, f, &sleeps, p
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, Interval(0, model.CategoryImage))
	assert.Equal(t, 30*time.Second, Interval(90*time.Second, model.CategoryImage))
	assert.Equal(t, 30*time.Second, Interval(59*time.Second, model.CategoryVideo))
	assert.Equal(t, 60*time.Second, Interval(time.Minute, model.CategoryVideo))
	assert.True(t, ShouldContinue(4*time.Minute-time.Millisecond, model.CategoryImage))
	assert.False(t, ShouldContinue(4*time.Minute, model.CategoryImage))
	assert.True(t, ShouldContinue(14*time.Minute, model.CategoryVideo))
}

func TestIsTransientAndFriendly(t *testing.T) {
	assert.True(t, IsTransient(errors.New("read: ECONNRESET")))
	assert.True(t, IsTransient(errors.New("request failed (status: 503): down")))
	assert.True(t, IsTransient(errors.New("Model under heavy load")))
	assert.False(t, IsTransient(errors.New("request failed (status: 404): task not found")))
	assert.False(t, IsTransient(nil))

	assert.Equal(t, "Server timeout. Please try again later.", FriendlyMessage("missing video payload"))
	assert.Equal(t, "Server is busy. Please try again later.", FriendlyMessage("HEAVY_LOAD"))
	assert.Equal(t, "Request failed. Please retry.", FriendlyMessage("request failed (status: 400): bad"))
	assert.Equal(t, "Network error. Please check your connection.", FriendlyMessage("socket hang up"))
	assert.Equal(t, "quota exceeded", FriendlyMessage("quota exceeded"))
}

func TestWatch_TransientErrorsBackOffThenSucceed(t *testing.T) {
	transient := errors.New("network error: connection reset")
	_, _, sleeps, p := newHarness(
		step{err: transient},
		step{err: transient},
		step{err: transient},
		step{status: model.TaskStatusCompleted, url: "https://cdn/v.mp4"},
	)

	res, err := p.Watch(context.Background(), "t1", model.CategoryVideo, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, res.Status)
	assert.Equal(t, "https://cdn/v.mp4", res.URL)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *sleeps)
}

func TestWatch_TooManyTransientErrors(t *testing.T) {
	transient := errors.New("Server is under heavy load")
	_, f, _, p := newHarness(
		step{err: transient}, step{err: transient}, step{err: transient},
		step{err: transient}, step{err: transient}, step{err: transient},
	)

	_, err := p.Watch(context.Background(), "t1", model.CategoryImage, nil)
	require.Error(t, err)
	assert.Equal(t, "Server is busy. Please try again later.", err.Error())
	assert.Len(t, f.calls, DefaultMaxErrors)
}

func TestWatch_NonTransientStops(t *testing.T) {
	_, f, _, p := newHarness(step{err: errors.New("request failed (status: 403): forbidden")})

	_, err := p.Watch(context.Background(), "t1", model.CategoryImage, nil)
	assert.ErrorContains(t, err, "403")
	assert.Len(t, f.calls, 1)
}

func TestWatch_CeilingIsLocalTimeout(t *testing.T) {
	clock, f, _, p := newHarness()
	start := clock.Now()

	var updates int
	res, err := p.Watch(context.Background(), "t1", model.CategoryImage, func(*model.TaskStatusResponse) { updates++ })
	require.NoError(t, err)
	assert.True(t, res.LocalTimeout)
	assert.Equal(t, "Generation timed out", res.ErrorMessage)

	// 0..50s every 10s, then 60s..210s every 30s
	assert.Len(t, f.calls, 12)
	assert.Equal(t, 12, updates)
	last := f.calls[len(f.calls)-1]
	assert.Less(t, last.Sub(start), 4*time.Minute)
	assert.Zero(t, f.cancels)
}

func TestWatch_FailedStops(t *testing.T) {
	_, f, _, p := newHarness(step{status: model.TaskStatusPending}, step{status: model.TaskStatusFailed})

	res, err := p.Watch(context.Background(), "t1", model.CategoryVideo, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, res.Status)
	assert.Len(t, f.calls, 2)
}

func TestTracker_CancelStopsPollingFirst(t *testing.T) {
	f := &scriptedFetcher{clock: &fakeClock{now: time.Now()}, fallback: step{status: model.TaskStatusProcessing}}
	p := New(f, WithSleeper(sleepContext))
	tr := NewTracker(p)

	done := make(chan struct{})
	started := tr.Start(context.Background(), "t1", model.CategoryImage, nil, func(*Result, error) { close(done) })
	require.True(t, started)
	assert.False(t, tr.Start(context.Background(), "t1", model.CategoryImage, nil, nil), "one watcher per task")

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.calls) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Cancel(context.Background(), "t1"))
	<-done

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.cancels)
	assert.Len(t, f.calls, 1)
	assert.False(t, tr.Watching("t1"))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/generate/status/ok":
			w.Write([]byte(`{"success":true,"data":{"id":"ok","status":"completed","url":"https://cdn/x.png"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/generate/status/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":"SERVICE_UNAVAILABLE","message":"try again later"}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/tasks/ok":
			w.Write([]byte(`{"success":true,"data":{"cancelled":true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"Task not found"}}`))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", "tok", srv.Client())
	ctx := context.Background()

	st, err := f.Status(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, st.Status)
	assert.Equal(t, "https://cdn/x.png", st.URL)

	_, err = f.Status(ctx, "busy")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, err = f.Status(ctx, "gone")
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	assert.NoError(t, f.Cancel(ctx, "ok"))
}
