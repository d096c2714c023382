package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/trafficwatch/app/feed"
)

type TaskType string

const (
	TaskTypeFetchFeed TaskType = "fetch_feed"
	TaskTypeRun       TaskType = "run"
)

const (
	DefaultMaxRetries = 2
	maxRetryDelay     = 30 * time.Second
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetCategory() feed.Category
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

type Task struct {
	ID         string
	Type       TaskType
	Category   feed.Category
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetCategory() feed.Category {
	return t.Category
}

func (t *Task) GetRetryCount() int {
	return t.RetryCount
}

func (t *Task) GetMaxRetries() int {
	return t.MaxRetries
}

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, category feed.Category) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Category:   category,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// RetryDelay doubles base for every retry already made, capped at 30s.
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 30 {
		return maxRetryDelay
	}
	delay := base << uint(retryCount-1)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}

// executeWithRetry runs task until it succeeds or its retries are exhausted,
// sleeping RetryDelay between attempts. The last error is returned.
func executeWithRetry(ctx context.Context, task TaskInterface, base time.Duration) error {
	for {
		task.Start()
		err := task.Execute(ctx)
		if err == nil {
			return nil
		}

		slog.Error("Task execution failed", "type", string(task.GetType()), "feed", task.GetCategory(), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if !task.CanRetry() || ctx.Err() != nil {
			if task.GetMaxRetries() > 0 {
				slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "feed", task.GetCategory(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
			}
			return err
		}

		task.IncrementRetryCount()
		retryDelay := RetryDelay(base, task.GetRetryCount())
		slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetCategory(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
