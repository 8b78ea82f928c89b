// Package service implements task submission, status, cancellation and the
// read models served over HTTP.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/ledger"
	"github.com/makeasinger/mediagen/internal/metrics"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/store"
)

var (
	ErrEmptySubmission = errors.New("prompt or reference files required")
	ErrNoMedia         = errors.New("task has no media")
)

// Notifier receives task updates for live subscribers.
type Notifier interface {
	BroadcastProgress(taskID string, progress int, status model.TaskStatus, message string)
}

type GenerationService struct {
	cfg     *config.Config
	tasks   *store.TaskStore
	ledger  *ledger.Ledger
	queue   TaskQueue
	status  *StatusCache
	notify  Notifier
	metrics *metrics.Metrics
	fetch   *http.Client
	log     zerolog.Logger
}

func NewGenerationService(cfg *config.Config, tasks *store.TaskStore, l *ledger.Ledger, queue TaskQueue,
	status *StatusCache, notify Notifier, m *metrics.Metrics, log zerolog.Logger) *GenerationService {
	return &GenerationService{
		cfg:     cfg,
		tasks:   tasks,
		ledger:  l,
		queue:   queue,
		status:  status,
		notify:  notify,
		metrics: m,
		fetch:   &http.Client{Timeout: mediaFetchTimeout},
		log:     log.With().Str("component", "generation_service").Logger(),
	}
}

// Create places a credit hold and queues a generation. No task row exists
// when the hold is refused.
func (s *GenerationService) Create(ctx context.Context, userID string, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Files) == 0 && len(req.Images) == 0 {
		return nil, ErrEmptySubmission
	}
	m, ok := s.cfg.Model(req.Model)
	if !ok || !model.TaskKind(m.Kind).Valid() {
		return nil, apperr.ErrModelNotFound
	}

	params := model.TaskParams{
		AspectRatio:   req.AspectRatio,
		ImageSize:     req.ImageSize,
		Duration:      req.Duration,
		Images:        req.Images,
		Files:         req.Files,
		ResolvedModel: m.APIModel,
	}
	task := &model.Task{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    model.TaskKind(m.Kind),
		ModelID: m.ID,
		Prompt:  req.Prompt,
		Cost:    s.cfg.Pricing.CostFor(m),
	}
	if err := s.submit(ctx, task, params); err != nil {
		return nil, err
	}
	return &model.GenerateResponse{ID: task.ID, Status: task.Status, Cost: task.Cost}, nil
}

// CreateCharacterCard queues a character registration from a short clip.
func (s *GenerationService) CreateCharacterCard(ctx context.Context, userID string, req *model.CharacterCardRequest) (*model.GenerateResponse, error) {
	m := config.CharacterCardModel()
	params := model.TaskParams{
		Files:         []model.ReferenceImage{{MimeType: "video/mp4", Data: req.VideoBase64}},
		FirstFrame:    imageDataURL(req.FirstFrameBase64),
		ResolvedModel: m.APIModel,
	}
	task := &model.Task{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    model.KindCharacterCard,
		ModelID: m.ID,
		Prompt:  "character card",
		Cost:    s.cfg.Pricing.CostFor(m),
	}
	if err := s.submit(ctx, task, params); err != nil {
		return nil, err
	}
	return &model.GenerateResponse{ID: task.ID, Status: task.Status, Cost: task.Cost}, nil
}

func (s *GenerationService) submit(ctx context.Context, task *model.Task, params model.TaskParams) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	task.Params = string(raw)
	task.Status = model.TaskStatusPending

	if err := s.ledger.Reserve(ctx, task.UserID, task.ID, task.Cost); err != nil {
		return err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		s.release(ctx, task.ID)
		return fmt.Errorf("failed to save task: %w", err)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if _, ferr := s.tasks.Fail(ctx, task.ID, "failed to queue task"); ferr != nil {
			s.log.Error().Err(ferr).Str("task_id", task.ID).Msg("Failed to mark unqueued task")
		}
		s.release(ctx, task.ID)
		return err
	}

	s.metrics.TaskCreated(string(task.Kind))
	if task.Kind.Category() == model.CategoryVideo {
		s.status.Invalidate(ctx, task.UserID)
	}
	s.log.Info().
		Str("task_id", task.ID).
		Str("user_id", task.UserID).
		Str("kind", string(task.Kind)).
		Int64("cost", task.Cost).
		Msg("Task queued")
	return nil
}

func (s *GenerationService) release(ctx context.Context, taskID string) {
	if err := s.ledger.Release(ctx, taskID); err != nil {
		s.metrics.LedgerFailure("release")
		s.log.Error().Err(err).Str("task_id", taskID).Msg("Failed to release hold")
	}
}

// owned loads a task and checks it belongs to userID.
func (s *GenerationService) owned(ctx context.Context, userID, taskID string) (*model.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, apperr.ErrForbidden
	}
	return t, nil
}

func (s *GenerationService) Status(ctx context.Context, userID, taskID string) (*model.TaskStatusResponse, error) {
	t, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	params, err := t.DecodeParams()
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", t.ID).Msg("Stored params are unreadable")
	}
	return &model.TaskStatusResponse{
		ID:           t.ID,
		Status:       t.Status,
		Type:         t.Kind,
		URL:          MediaURL(t),
		Cost:         t.Cost,
		Progress:     t.Progress,
		ErrorMessage: t.ErrorMessage,
		Params:       publicParams(params),
		Meta:         t.DecodeMeta(),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}, nil
}

// Cancel stops an open task and refunds its hold. Cancelling a terminal task
// is a no-op that reports the current status.
func (s *GenerationService) Cancel(ctx context.Context, userID, taskID string) (*model.CancelResponse, error) {
	t, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return &model.CancelResponse{Success: true, Cancelled: false, ID: t.ID, Status: t.Status}, nil
	}

	changed, err := s.tasks.Cancel(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}
	if !changed {
		// lost the race against the runner
		current, err := s.tasks.Get(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		return &model.CancelResponse{Success: true, Cancelled: false, ID: t.ID, Status: current.Status}, nil
	}

	if err := s.ledger.Refund(ctx, t.ID); err != nil {
		s.metrics.LedgerFailure("refund")
		s.log.Error().Err(err).Str("task_id", t.ID).Msg("Failed to refund cancelled task")
	}
	if err := s.queue.Cancel(ctx, t); err != nil {
		s.log.Warn().Err(err).Str("task_id", t.ID).Msg("Queue cancel failed")
	}
	s.metrics.TaskFinished(string(t.Kind), string(model.TaskStatusCancelled))
	if t.Kind.Category() == model.CategoryVideo {
		s.status.Invalidate(ctx, t.UserID)
	}
	if s.notify != nil {
		s.notify.BroadcastProgress(t.ID, t.Progress, model.TaskStatusCancelled, "Task cancelled")
	}
	s.log.Info().Str("task_id", t.ID).Msg("Task cancelled")

	return &model.CancelResponse{Success: true, Cancelled: true, ID: t.ID, Status: model.TaskStatusCancelled}, nil
}

func (s *GenerationService) ListPending(ctx context.Context, userID string) ([]model.PendingTask, error) {
	tasks, err := s.tasks.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.PendingTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, model.PendingTask{
			ID:        t.ID,
			Prompt:    t.Prompt,
			Type:      t.Kind,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
		})
	}
	return out, nil
}

func (s *GenerationService) Balance(ctx context.Context, userID string) (*model.BalanceResponse, error) {
	acct, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.BalanceResponse{Balance: acct.Balance, Held: acct.Held, Available: acct.Available()}, nil
}

func (s *GenerationService) VideoStatus(ctx context.Context, userID string) (*model.VideoStatusSnapshot, error) {
	return s.status.Get(ctx, userID)
}

// publicParams drops inline payloads from the echoed parameter bag.
func publicParams(p model.TaskParams) map[string]any {
	out := map[string]any{}
	if p.AspectRatio != "" {
		out["aspectRatio"] = p.AspectRatio
	}
	if p.ImageSize != "" {
		out["imageSize"] = p.ImageSize
	}
	if p.Duration != "" {
		out["duration"] = p.Duration
	}
	if p.ResolvedModel != "" {
		out["model"] = p.ResolvedModel
	}
	if n := len(p.Images) + len(p.Files); n > 0 {
		out["references"] = n
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func imageDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		return s
	}
	return "data:image/jpeg;base64," + s
}
