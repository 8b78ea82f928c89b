package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/mediagen/internal/model"
)

const TaskTypeGenerate = "generate:process"

// Queue names and their asynq priority weights.
const (
	QueueVideo = "video"
	QueueImage = "image"
)

var QueueWeights = map[string]int{QueueVideo: 6, QueueImage: 4}

// TaskPayload is the asynq payload of a generation task.
type TaskPayload struct {
	TaskID string `json:"taskId"`
}

// TaskQueue hands tasks to the background runner.
type TaskQueue interface {
	Enqueue(ctx context.Context, t *model.Task) error
	// Cancel stops a queued or running task. Best effort.
	Cancel(ctx context.Context, t *model.Task) error
}

func QueueFor(kind model.TaskKind) string {
	if kind.Category() == model.CategoryVideo {
		return QueueVideo
	}
	return QueueImage
}

func NewGenerateTask(taskID string) (*asynq.Task, error) {
	data, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerate, data), nil
}

// ErrStillQueued means a live copy of the task is waiting or running.
var ErrStillQueued = errors.New("task is still queued")

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
}

// AsynqQueue enqueues with the task id as the asynq TaskID so a task can be
// queued at most once at a time.
type AsynqQueue struct {
	client    taskEnqueuer
	inspector taskInspector
	timeout   time.Duration
}

func NewAsynqQueue(client *asynq.Client, inspector *asynq.Inspector, timeout time.Duration) *AsynqQueue {
	q := &AsynqQueue{client: client, timeout: timeout}
	if inspector != nil {
		q.inspector = inspector
	}
	return q
}

// Enqueue returns asynq.ErrTaskIDConflict when the task is still queued.
func (q *AsynqQueue) Enqueue(ctx context.Context, t *model.Task) error {
	task, err := NewGenerateTask(t.ID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID(t.ID),
		asynq.Queue(QueueFor(t.Kind)),
		asynq.MaxRetry(1),
	}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Cancel(_ context.Context, t *model.Task) error {
	if q.inspector == nil {
		return nil
	}
	var errs []error
	if err := q.inspector.CancelProcessing(t.ID); err != nil {
		errs = append(errs, fmt.Errorf("cancel processing: %w", err))
	}
	err := q.inspector.DeleteTask(QueueFor(t.Kind), t.ID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		errs = append(errs, fmt.Errorf("delete queued task: %w", err))
	}
	return errors.Join(errs...)
}

// Requeue enqueues t again. A copy left archived or completed by an earlier
// run is deleted first; a live copy yields ErrStillQueued.
func (q *AsynqQueue) Requeue(ctx context.Context, t *model.Task) error {
	err := q.Enqueue(ctx, t)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	if q.inspector == nil {
		return ErrStillQueued
	}

	queue := QueueFor(t.Kind)
	info, err := q.inspector.GetTaskInfo(queue, t.ID)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
	case err != nil:
		return fmt.Errorf("inspect queued task: %w", err)
	case info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted:
		return ErrStillQueued
	default:
		if err := q.inspector.DeleteTask(queue, t.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("delete archived task: %w", err)
		}
	}
	return q.Enqueue(ctx, t)
}
