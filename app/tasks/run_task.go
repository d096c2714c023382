package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lysyi3m/trafficwatch/app/cfg"
	"github.com/lysyi3m/trafficwatch/app/database"
	"github.com/lysyi3m/trafficwatch/app/feed"
	"github.com/lysyi3m/trafficwatch/app/history"
	"github.com/lysyi3m/trafficwatch/app/runlock"
	"github.com/lysyi3m/trafficwatch/app/tracker"
)

// Locker guards a history store against concurrent runs.
type Locker interface {
	Acquire(ctx context.Context) (*runlock.Lease, error)
}

// RunLogger records the outcome of a run.
type RunLogger interface {
	RecordRun(ctx context.Context, run database.Run) error
}

// RunDeps carries the collaborators of a run. Locker and RunLog are optional.
type RunDeps struct {
	Feeds        []*feed.Config
	HTTPClient   *http.Client
	Parser       *feed.Parser
	UserAgent    string
	FetchRetries int
	RetryDelay   time.Duration // base of the exponential backoff
	OnFetchError cfg.FetchErrorPolicy

	Sources   []history.Source
	Sinks     []history.Sink
	Formatter *history.Formatter
	Locker    Locker
	RunLog    RunLogger

	Now func() time.Time
}

// RunTask performs one fetch, reconcile and persist cycle.
type RunTask struct {
	Task
	deps RunDeps

	Summary tracker.Summary
}

func NewRunTask(deps RunDeps) *RunTask {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = time.Second
	}
	if deps.Formatter == nil {
		deps.Formatter = history.NewFormatter(time.UTC)
	}
	if deps.OnFetchError == "" {
		deps.OnFetchError = cfg.FetchErrorAbort
	}

	task := NewTask(TaskTypeRun, "")
	task.MaxRetries = 0
	return &RunTask{Task: task, deps: deps}
}

func (t *RunTask) Execute(ctx context.Context) error {
	t.Start()
	log := slog.With("run_id", t.ID)

	if t.deps.Locker != nil {
		lease, err := t.deps.Locker.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer func() {
			if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				log.Warn("Failed to release run lock", "error", releaseErr)
			}
		}()
	}

	startedAt := t.deps.Now()

	items, fetched, err := t.fetchAll(ctx)
	if err != nil {
		return err
	}

	prior := history.Load(ctx, t.deps.Sources...)

	// Categories that were not fetched keep their records as they are.
	runAt := t.deps.Now()
	idx, sum := tracker.ReconcileScoped(prior, items, runAt, fetched)
	t.deps.Formatter.AnnotateAll(idx)

	if err := history.Save(ctx, idx.Records(), t.deps.Sinks...); err != nil {
		return err
	}
	t.Summary = sum

	if t.deps.RunLog != nil {
		run := database.Run{
			ID:         t.ID,
			StartedAt:  startedAt,
			FinishedAt: t.deps.Now(),
			Categories: fetched,
			Fetched:    len(items),
			New:        sum.New,
			Updated:    sum.Updated,
			Reappeared: sum.Reappeared,
			Ended:      sum.Ended,
			Skipped:    sum.Skipped,
			Duplicates: sum.Duplicates,
			Total:      sum.Total,
		}
		if err := t.deps.RunLog.RecordRun(ctx, run); err != nil {
			log.Warn("Failed to record run", "error", err)
		}
	}

	log.Info("Task completed",
		"type", string(t.GetType()),
		"duration", t.GetDuration(),
		"feeds", len(fetched),
		"fetched", len(items),
		"new", sum.New,
		"updated", sum.Updated,
		"reappeared", sum.Reappeared,
		"ended", sum.Ended,
		"skipped", sum.Skipped,
		"duplicates", sum.Duplicates,
		"total", sum.Total)

	return nil
}

// fetchAll fetches every configured feed in order and returns the items and
// the categories that were fetched successfully.
func (t *RunTask) fetchAll(ctx context.Context) ([]feed.Item, []feed.Category, error) {
	var items []feed.Item
	fetched := make([]feed.Category, 0, len(t.deps.Feeds))
	var failures []error

	for _, feedConfig := range t.deps.Feeds {
		task := NewFetchFeedTask(feedConfig, t.deps.HTTPClient, t.deps.Parser, t.deps.UserAgent, t.deps.FetchRetries)

		if err := executeWithRetry(ctx, task, t.deps.RetryDelay); err != nil {
			fetchErr := &FetchError{Category: feedConfig.Category, URL: feedConfig.URL, Err: err}
			if t.deps.OnFetchError == cfg.FetchErrorAbort || ctx.Err() != nil {
				return nil, nil, fmt.Errorf("run aborted: %w", fetchErr)
			}
			slog.Warn("Skipping feed for this run", "feed", feedConfig.Category, "error", err)
			failures = append(failures, fetchErr)
			continue
		}

		items = append(items, task.Items...)
		fetched = append(fetched, feedConfig.Category)
	}

	if len(fetched) == 0 && len(failures) > 0 {
		return nil, nil, fmt.Errorf("run aborted, no feed could be fetched: %w", errors.Join(failures...))
	}

	return items, fetched, nil
}
