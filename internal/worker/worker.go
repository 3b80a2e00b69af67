package worker

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

const recoveryLockKey = "recovery-sweep"

// recoveryBatchSize caps how many stuck tasks one sweep touches
const recoveryBatchSize = 50

// TaskSource finds tasks that stopped moving
type TaskSource interface {
	FindStuckTasks(ctx context.Context, statuses []string, olderThan time.Duration, limit int) ([]models.Task, error)
}

// Redispatcher pushes a task's download job back onto the queue
type Redispatcher interface {
	Dispatch(ctx context.Context, task *models.Task) error
}

// Queue exposes the download queue contents and the sweep lock
type Queue interface {
	PendingJobs(ctx context.Context) ([]models.DownloadJob, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// RecoveryWorker periodically sweeps for paid tasks that fell out of
// the pipeline. Enrolled tasks whose job is missing from the queue are
// dispatched again; tasks stuck in processing are only surfaced to
// operators, because re-running enrollment for them without knowing why
// the first run stalled can double-enroll.
type RecoveryWorker struct {
	tasks      TaskSource
	queue      Queue
	dispatcher Redispatcher
	tick       time.Duration
	stuckAfter time.Duration
	logger     *zap.Logger
	stop       chan struct{}
	done       chan struct{}
}

// NewRecoveryWorker creates a recovery worker
func NewRecoveryWorker(tasks TaskSource, queue Queue, dispatcher Redispatcher, tick, stuckAfter time.Duration) *RecoveryWorker {
	return &RecoveryWorker{
		tasks:      tasks,
		queue:      queue,
		dispatcher: dispatcher,
		tick:       tick,
		stuckAfter: stuckAfter,
		logger:     util.GetLogger(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context ends
func (w *RecoveryWorker) Start(ctx context.Context) {
	w.logger.Info("Recovery worker started",
		zap.Duration("tick", w.tick),
		zap.Duration("stuck_after", w.stuckAfter))

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Stop shuts the worker down and waits for the loop to exit
func (w *RecoveryWorker) Stop() {
	close(w.stop)
	<-w.done
	w.logger.Info("Recovery worker stopped")
}

// Sweep runs one recovery pass. The sweep lock keeps concurrent
// replicas from double-dispatching the same stuck tasks.
func (w *RecoveryWorker) Sweep(ctx context.Context) {
	locked, err := w.queue.AcquireLock(ctx, recoveryLockKey, w.tick)
	if err != nil {
		w.logger.Warn("Failed to acquire recovery lock", zap.Error(err))
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := w.queue.ReleaseLock(ctx, recoveryLockKey); err != nil {
			w.logger.Warn("Failed to release recovery lock", zap.Error(err))
		}
	}()

	w.redispatchLostJobs(ctx)
	w.reportStalledEnrollments(ctx)
}

// redispatchLostJobs finds enrolled tasks of paid orders whose download
// job is no longer anywhere in the queue and pushes the job again
func (w *RecoveryWorker) redispatchLostJobs(ctx context.Context) {
	stuck, err := w.tasks.FindStuckTasks(ctx,
		[]string{models.TaskStatusEnrolled}, w.stuckAfter, recoveryBatchSize)
	if err != nil {
		w.logger.Error("Failed to find stuck enrolled tasks", zap.Error(err))
		return
	}
	if len(stuck) == 0 {
		return
	}

	pending, err := w.queue.PendingJobs(ctx)
	if err != nil {
		w.logger.Error("Failed to list pending jobs", zap.Error(err))
		return
	}

	queued := make(map[string]bool, len(pending))
	for _, job := range pending {
		queued[job.JobID] = true
	}

	for i := range stuck {
		task := &stuck[i]
		if queued[fmt.Sprintf("task-%d", task.ID)] {
			continue
		}

		w.logger.Warn("Re-dispatching task lost from queue",
			zap.Int64("task_id", task.ID),
			zap.Time("last_update", task.UpdatedAt))

		if err := w.dispatcher.Dispatch(ctx, task); err != nil {
			w.logger.Error("Recovery dispatch failed",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
			continue
		}
		util.TasksRecoveredTotal.Inc()
	}
}

// reportStalledEnrollments surfaces tasks that sat in processing past
// the cutoff so an operator can decide whether to replay them
func (w *RecoveryWorker) reportStalledEnrollments(ctx context.Context) {
	stalled, err := w.tasks.FindStuckTasks(ctx,
		[]string{models.TaskStatusProcessing}, w.stuckAfter, recoveryBatchSize)
	if err != nil {
		w.logger.Error("Failed to find stalled processing tasks", zap.Error(err))
		return
	}

	for _, task := range stalled {
		w.logger.Warn("Task stalled in processing, needs operator attention",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", task.CourseURL),
			zap.Time("last_update", task.UpdatedAt))
	}
}
