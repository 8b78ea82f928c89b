// Package store persists generation tasks. Every status change is a guarded
// conditional update so a terminal task can never be moved again.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/model"
)

var ErrEmptyResult = errors.New("completed task requires a result url")

type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Create(ctx context.Context, t *model.Task) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *TaskStore) Get(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkProcessing moves a pending task to processing.
func (s *TaskStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, []model.TaskStatus{model.TaskStatusPending}, map[string]any{
		"status": model.TaskStatusProcessing,
	})
}

// UpdateProgress records progress on an open task. Terminal tasks are left alone.
func (s *TaskStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.transition(ctx, id, model.OpenStatuses, map[string]any{
		"progress": progress,
	})
	return err
}

// Complete stores the result of an open task. It reports false when the task
// had already reached a terminal state, e.g. was cancelled mid-flight.
func (s *TaskStore) Complete(ctx context.Context, id, resultURL, meta string) (bool, error) {
	if resultURL == "" {
		return false, ErrEmptyResult
	}
	now := time.Now()
	return s.transition(ctx, id, model.OpenStatuses, map[string]any{
		"status":        model.TaskStatusCompleted,
		"result_url":    resultURL,
		"result_meta":   meta,
		"progress":      100,
		"error_message": "",
		"completed_at":  &now,
	})
}

func (s *TaskStore) Fail(ctx context.Context, id, message string) (bool, error) {
	now := time.Now()
	return s.transition(ctx, id, model.OpenStatuses, map[string]any{
		"status":        model.TaskStatusFailed,
		"error_message": message,
		"completed_at":  &now,
	})
}

func (s *TaskStore) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	return s.transition(ctx, id, model.OpenStatuses, map[string]any{
		"status":       model.TaskStatusCancelled,
		"completed_at": &now,
	})
}

func (s *TaskStore) transition(ctx context.Context, id string, from []model.TaskStatus, updates map[string]any) (bool, error) {
	updates["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.Task{}, "id = ?", id).Error
}

// ListPending returns the user's open tasks, newest first.
func (s *TaskStore) ListPending(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, model.OpenStatuses).
		Order("created_at DESC").
		Find(&tasks).Error
	return tasks, err
}

// ListRecent returns the user's latest tasks of the given kinds, newest first.
func (s *TaskStore) ListRecent(ctx context.Context, userID string, kinds []model.TaskKind, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind IN ?", userID, kinds).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// UsersWithRecent lists users that touched a task of the given kinds since t.
func (s *TaskStore) UsersWithRecent(ctx context.Context, kinds []model.TaskKind, since time.Time) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("kind IN ? AND updated_at >= ?", kinds, since).
		Distinct().
		Pluck("user_id", &users).Error
	return users, err
}

// StalePending returns pending tasks created before cutoff, oldest first.
func (s *TaskStore) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TaskStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
