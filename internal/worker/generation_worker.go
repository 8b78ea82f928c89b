// Package worker runs queued generation tasks and the periodic maintenance
// jobs around them.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/client"
	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/ledger"
	"github.com/makeasinger/mediagen/internal/metrics"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/internal/store"
)

const (
	persistTries   = 5
	persistTimeout = 30 * time.Second
)

// Notifier receives live task updates.
type Notifier interface {
	BroadcastProgress(taskID string, progress int, status model.TaskStatus, message string)
	BroadcastStream(taskID, delta string)
	BroadcastComplete(taskID, url string, meta map[string]any)
	BroadcastError(taskID, code, message string)
}

// GenerationWorker processes generate:process tasks. It never lets an
// adapter failure escape: every outcome lands in the store and the ledger.
type GenerationWorker struct {
	cfg      *config.Config
	tasks    *store.TaskStore
	ledger   *ledger.Ledger
	adapters client.Resolver
	storage  client.StorageClient
	notify   Notifier
	status   *service.StatusCache
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// PersistBackOff builds the retry schedule for terminal writes.
	PersistBackOff func() backoff.BackOff
}

func NewGenerationWorker(cfg *config.Config, tasks *store.TaskStore, l *ledger.Ledger, adapters client.Resolver,
	storage client.StorageClient, notify Notifier, status *service.StatusCache, m *metrics.Metrics, log zerolog.Logger) *GenerationWorker {
	return &GenerationWorker{
		cfg:      cfg,
		tasks:    tasks,
		ledger:   l,
		adapters: adapters,
		storage:  storage,
		notify:   notify,
		status:   status,
		metrics:  m,
		log:      log.With().Str("component", "generation_worker").Logger(),

		PersistBackOff: defaultPersistBackOff,
	}
}

func defaultPersistBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// ProcessTask handles one queued task. Missing and terminal tasks are acked
// without work so redelivery is harmless.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TaskID == "" {
		return fmt.Errorf("invalid task payload: %w", asynq.SkipRetry)
	}

	task, err := w.tasks.Get(ctx, payload.TaskID)
	if errors.Is(err, apperr.ErrTaskNotFound) {
		w.log.Warn().Str("task_id", payload.TaskID).Msg("Task vanished before processing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task.Status.IsTerminal() {
		w.log.Info().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("Skipping finished task")
		return nil
	}

	log := w.log.With().Str("task_id", task.ID).Str("kind", string(task.Kind)).Logger()
	log.Info().Msg("Starting generation")

	if _, err := w.tasks.MarkProcessing(ctx, task.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to mark task processing")
	}
	w.notify.BroadcastProgress(task.ID, task.Progress, model.TaskStatusProcessing, "Generation started")

	result, err := w.generate(ctx, task, log)
	if err != nil {
		w.fail(ctx, task, err, log)
		return nil
	}
	w.complete(ctx, task, result, log)
	return nil
}

func (w *GenerationWorker) generate(ctx context.Context, task *model.Task, log zerolog.Logger) (*client.GenerateResult, error) {
	m, ok := w.modelFor(task)
	if !ok {
		return nil, apperr.ErrModelNotFound
	}
	params, err := task.DecodeParams()
	if err != nil {
		return nil, fmt.Errorf("unreadable task params: %w", err)
	}
	adapter, err := w.adapters.Resolve(task.Kind, m)
	if err != nil {
		return nil, err
	}

	lastPct := task.Progress
	req := &client.GenerateRequest{
		TaskID: task.ID,
		Kind:   task.Kind,
		Model:  m,
		Prompt: task.Prompt,
		Params: params,
		OnProgress: func(percent int, message string) {
			if message != "" {
				w.notify.BroadcastStream(task.ID, message)
			}
			if percent <= lastPct || percent > 100 {
				return
			}
			lastPct = percent
			if err := w.tasks.UpdateProgress(ctx, task.ID, percent); err != nil {
				log.Warn().Err(err).Msg("Failed to record progress")
			}
			w.notify.BroadcastProgress(task.ID, percent, model.TaskStatusProcessing, "")
		},
	}

	start := time.Now()
	result, err := adapter.Generate(ctx, req)
	w.metrics.ProviderCall(m.Channel, string(task.Kind), time.Since(start))
	if err != nil {
		w.metrics.ProviderError(m.Channel, errorClass(err))
		return nil, err
	}
	if result == nil || result.URL == "" {
		return nil, apperr.Provider(m.Channel, 0, "empty result")
	}
	return result, nil
}

func (w *GenerationWorker) modelFor(task *model.Task) (config.ModelConfig, bool) {
	if task.Kind == model.KindCharacterCard {
		return config.CharacterCardModel(), true
	}
	return w.cfg.Model(task.ModelID)
}

func (w *GenerationWorker) complete(ctx context.Context, task *model.Task, result *client.GenerateResult, log zerolog.Logger) {
	url := w.offload(ctx, task, result.URL, log)

	var meta string
	if len(result.Meta) > 0 {
		if raw, err := json.Marshal(result.Meta); err == nil {
			meta = string(raw)
		}
	}

	changed, err := w.persist(ctx, func(pctx context.Context) (bool, error) {
		changed, err := w.tasks.Complete(pctx, task.ID, url, meta)
		if errors.Is(err, store.ErrEmptyResult) {
			return false, backoff.Permanent(err)
		}
		return changed, err
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist completed task")
		return
	}
	if !changed {
		log.Info().Msg("Task closed while generating, discarding result")
		return
	}

	w.settle(ctx, task, "deduct", w.ledger.FinalizeDeduct, log)
	w.metrics.TaskFinished(string(task.Kind), string(model.TaskStatusCompleted))
	w.invalidate(ctx, task)
	w.notify.BroadcastComplete(task.ID, service.MediaURL(&model.Task{ID: task.ID, ResultURL: url}), result.Meta)
	log.Info().Msg("Generation completed")
}

func (w *GenerationWorker) fail(ctx context.Context, task *model.Task, cause error, log zerolog.Logger) {
	msg := apperr.UserMessage(cause)
	log.Warn().Err(cause).Msg("Generation failed")

	changed, err := w.persist(ctx, func(pctx context.Context) (bool, error) {
		return w.tasks.Fail(pctx, task.ID, msg)
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist failed task")
		return
	}
	if !changed {
		return
	}

	w.settle(ctx, task, "release", w.ledger.Release, log)
	w.metrics.TaskFinished(string(task.Kind), string(model.TaskStatusFailed))
	if task.Kind == model.KindCharacterCard {
		if err := w.tasks.Delete(context.WithoutCancel(ctx), task.ID); err != nil {
			log.Warn().Err(err).Msg("Failed to delete failed character card")
		}
	}
	w.invalidate(ctx, task)
	w.notify.BroadcastError(task.ID, errorCode(cause), msg)
}

// persist retries a terminal write on a context detached from the task's
// cancellation, so a cancelled or timed-out run can still record its outcome.
func (w *GenerationWorker) persist(ctx context.Context, fn func(context.Context) (bool, error), log zerolog.Logger) (bool, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	changed, err := backoff.Retry(pctx, func() (bool, error) { return fn(pctx) },
		backoff.WithBackOff(w.PersistBackOff()),
		backoff.WithMaxTries(persistTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().Err(err).Dur("retry_in", d).Msg("Retrying task write")
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return changed, err
}

func (w *GenerationWorker) settle(ctx context.Context, task *model.Task, op string, fn func(context.Context, string) error, log zerolog.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(sctx, task.ID); err != nil {
		w.metrics.LedgerFailure(op)
		log.Error().Err(err).Str("op", op).Msg("Ledger settlement failed")
	}
}

// offload moves an inline result to object storage when one is configured.
// On upload failure the inline payload is kept.
func (w *GenerationWorker) offload(ctx context.Context, task *model.Task, url string, log zerolog.Logger) string {
	if w.storage == nil || !strings.HasPrefix(url, "data:") {
		return url
	}
	hosted, err := client.UploadDataURL(ctx, w.storage, "results/"+task.UserID, url, "image/png")
	if err != nil {
		log.Warn().Err(err).Msg("Result offload failed, keeping inline payload")
		return url
	}
	return hosted
}

func (w *GenerationWorker) invalidate(ctx context.Context, task *model.Task) {
	if task.Kind.Category() == model.CategoryVideo {
		w.status.Invalidate(context.WithoutCancel(ctx), task.UserID)
	}
}

func errorClass(err error) string {
	var (
		cfgErr     *apperr.ConfigurationError
		policyErr  *apperr.ContentPolicyError
		timeoutErr *apperr.TimeoutError
		provErr    *apperr.ProviderError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &policyErr):
		return "content_policy"
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &provErr):
		return "provider"
	}
	return "other"
}

func errorCode(err error) string {
	switch errorClass(err) {
	case "configuration":
		return "SERVICE_UNAVAILABLE"
	case "content_policy":
		return "CONTENT_POLICY"
	case "timeout":
		return "TIMEOUT"
	}
	return "GENERATION_FAILED"
}
