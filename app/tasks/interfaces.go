package tasks

// TaskSchedulerInterface defines the interface for repeated runs.
// Example usage:
//
//	scheduler, err := NewScheduler(ctx, "*/15 * * * *", time.UTC, 10*time.Minute, newRun)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(newRun())
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
