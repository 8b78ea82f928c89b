package poller

import (
	"context"
	"sync"

	"github.com/makeasinger/mediagen/internal/model"
)

type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker runs at most one watcher per task.
type Tracker struct {
	poller *Poller

	mu      sync.Mutex
	watches map[string]*watch
}

func NewTracker(p *Poller) *Tracker {
	return &Tracker{poller: p, watches: make(map[string]*watch)}
}

// Start begins watching taskID in the background. It returns false when the
// task is already being watched. onDone runs once with the watch outcome.
func (t *Tracker) Start(ctx context.Context, taskID string, cat model.Category, onUpdate func(*model.TaskStatusResponse), onDone func(*Result, error)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watches[taskID]; ok {
		return false
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	t.watches[taskID] = w

	go func() {
		defer close(w.done)
		res, err := t.poller.Watch(wctx, taskID, cat, onUpdate)
		t.mu.Lock()
		if t.watches[taskID] == w {
			delete(t.watches, taskID)
		}
		t.mu.Unlock()
		cancel()
		if onDone != nil {
			onDone(res, err)
		}
	}()
	return true
}

func (t *Tracker) Watching(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.watches[taskID]
	return ok
}

// Stop ends the watcher for taskID and waits for it to exit.
func (t *Tracker) Stop(taskID string) {
	t.mu.Lock()
	w, ok := t.watches[taskID]
	if ok {
		delete(t.watches, taskID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// Cancel stops the local watcher first, then asks the server to cancel, so no
// poll is issued after the cancel request.
func (t *Tracker) Cancel(ctx context.Context, taskID string) error {
	t.Stop(taskID)
	return t.poller.fetcher.Cancel(ctx, taskID)
}
