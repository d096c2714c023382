package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// RunFactory builds the task for one scheduled run.
type RunFactory func() TaskInterface

// Scheduler triggers a run on every tick of a cron schedule. A tick that
// arrives while the previous run is still going is skipped, so runs never
// overlap.
type Scheduler struct {
	cron       *cron.Cron
	newRun     RunFactory
	runTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler ties runs to parent: cancelling it aborts the run in progress.
func NewScheduler(parent context.Context, schedule string, loc *time.Location, runTimeout time.Duration, newRun RunFactory) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Scheduler{
		newRun:     newRun,
		runTimeout: runTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule run %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	slog.Info("Scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop prevents further ticks, cancels a run in progress and waits for it.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
}

// EnqueueTask executes task immediately on the caller's goroutine.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}
	return s.execute(task)
}

func (s *Scheduler) tick() {
	if err := s.execute(s.newRun()); err != nil {
		slog.Error("Scheduled run failed", "error", err)
	}
}

func (s *Scheduler) execute(task TaskInterface) error {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	return task.Execute(ctx)
}

// cronLogger adapts cron's logger to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
