package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// EnrollOutcome classifies one enrollment attempt
type EnrollOutcome int

const (
	// EnrollVerified means enrollment succeeded and the persisted task
	// status was confirmed to be enrolled.
	EnrollVerified EnrollOutcome = iota
	// EnrollRejected is an explicit refusal from the enrollment service
	EnrollRejected
	// EnrollErrored is a transport or server failure; the real outcome
	// on the platform is unknown.
	EnrollErrored
	// EnrollVerifyTimeout means the enrollment call succeeded but the
	// persisted status never read back as enrolled within the polling
	// window. The outcome is ambiguous and must not be auto-retried.
	EnrollVerifyTimeout
)

// FulfillmentReport summarizes one orchestration pass over an order.
// Partial success is a normal outcome, not an error.
type FulfillmentReport struct {
	OrderID    int64 `json:"order_id"`
	Total      int   `json:"total"`
	Enrolled   int   `json:"enrolled"`
	Dispatched int   `json:"dispatched"`
	Failed     int   `json:"failed"`
	Ambiguous  int   `json:"ambiguous"`
}

// Orchestrator drives paid tasks through enroll, verify and dispatch.
// It never propagates per-task failures to its caller; each task is
// carried as far as it can go and the rest is reported.
type Orchestrator struct {
	orders OrderStore
	tasks  TaskStore
	audit  AuditStore
	enroll EnrollmentClient
	queue  QueueDispatcher
	drive  PermissionGranter
	events EventPublisher
	cfg    config.FulfillmentConfig
	logger *zap.Logger
}

// NewOrchestrator creates a fulfillment orchestrator
func NewOrchestrator(
	orders OrderStore,
	tasks TaskStore,
	audit AuditStore,
	enroll EnrollmentClient,
	queue QueueDispatcher,
	drive PermissionGranter,
	events EventPublisher,
	cfg config.FulfillmentConfig,
) *Orchestrator {
	return &Orchestrator{
		orders: orders,
		tasks:  tasks,
		audit:  audit,
		enroll: enroll,
		queue:  queue,
		drive:  drive,
		events: events,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// ProcessOrder fulfills every processing task of a paid order, one
// course at a time. Enrollment is never batched: a rejected course
// must not take its siblings down with it.
func (o *Orchestrator) ProcessOrder(ctx context.Context, orderID int64) *FulfillmentReport {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ProcessOrder")
	defer span.End()

	report := &FulfillmentReport{OrderID: orderID}

	tasks, err := o.tasks.GetTasksByOrderAndStatus(ctx, orderID, models.TaskStatusProcessing)
	if err != nil {
		o.logger.Error("Failed to load tasks for fulfillment",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return report
	}

	report.Total = len(tasks)
	if len(tasks) == 0 {
		o.logger.Info("No processing tasks to fulfill", zap.Int64("order_id", orderID))
		return report
	}

	o.logger.Info("Starting order fulfillment",
		zap.Int64("order_id", orderID),
		zap.Int("task_count", len(tasks)))

	for i := range tasks {
		task := &tasks[i]

		outcome, detail := o.EnrollAndVerify(ctx, task)
		switch outcome {
		case EnrollVerified:
			report.Enrolled++

		case EnrollRejected, EnrollErrored:
			report.Failed++
			o.failTask(ctx, task, detail)
			continue

		case EnrollVerifyTimeout:
			// ambiguous: leave the task as-is for an operator to inspect
			report.Ambiguous++
			continue
		}

		if err := o.Dispatch(ctx, task); err != nil {
			o.logger.Error("Dispatch failed, task remains re-dispatchable",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
			continue
		}
		report.Dispatched++
	}

	o.logger.Info("Order fulfillment pass finished",
		zap.Int64("order_id", orderID),
		zap.Int("enrolled", report.Enrolled),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("failed", report.Failed),
		zap.Int("ambiguous", report.Ambiguous))

	// tasks born completed from the archive never see the worker
	// callback, so the buyer's access grant happens here, after payment
	o.grantArchivedAccess(ctx, orderID)

	// an order whose tasks all short-circuited or failed has nothing
	// left in flight and can close out right here
	if _, err := o.CompleteOrderIfDone(ctx, orderID); err != nil {
		o.logger.Error("Order completion check failed",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	return report
}

// grantArchivedAccess gives the buyer read access to tasks that were
// served straight from the archive at order time
func (o *Orchestrator) grantArchivedAccess(ctx context.Context, orderID int64) {
	done, err := o.tasks.GetTasksByOrderAndStatus(ctx, orderID, models.TaskStatusCompleted)
	if err != nil {
		o.logger.Error("Failed to load archived tasks",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return
	}

	for _, task := range done {
		if task.DriveLink == nil || task.Email == "" {
			continue
		}
		fileID := extractDriveFileID(*task.DriveLink)
		if fileID == "" {
			continue
		}
		if err := o.drive.GrantRead(ctx, fileID, task.Email); err != nil {
			o.logger.Error("Failed to grant archived access",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
		}
	}
}

// CompleteOrderIfDone marks an order completed once none of its tasks
// are still in flight, and publishes the completion event the mailer
// listens for. Returns true when this call performed the completion.
func (o *Orchestrator) CompleteOrderIfDone(ctx context.Context, orderID int64) (bool, error) {
	inFlight, err := o.tasks.CountInProgressTasks(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to count in-progress tasks: %w", err)
	}
	if inFlight > 0 {
		return false, nil
	}

	order, err := o.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.PaymentStatus != models.PaymentStatusPaid {
		return false, nil
	}

	// the guarded update decides the winner when two callbacks finish
	// the last tasks at the same time; only the winner publishes
	moved, err := o.orders.MarkOrderCompleted(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}
	if !moved {
		return false, nil
	}
	order.OrderStatus = models.OrderStatusCompleted
	util.OrdersCompletedTotal.Inc()

	tasks, err := o.tasks.GetTasksByOrderID(ctx, orderID)
	if err != nil {
		o.logger.Error("Failed to load tasks for completion event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		tasks = nil
	}

	var completed, failed []models.TaskBrief
	for _, t := range tasks {
		brief := models.TaskBrief{TaskID: t.ID, Title: t.Title, CourseURL: t.CourseURL}
		if t.Status == models.TaskStatusCompleted {
			if t.DriveLink != nil {
				brief.DriveLink = *t.DriveLink
			}
			completed = append(completed, brief)
		} else if t.Status == models.TaskStatusFailed {
			failed = append(failed, brief)
		}
	}

	if err := o.events.PublishOrderCompleted(ctx, order, completed, failed); err != nil {
		o.logger.Error("Failed to publish order completed event", zap.Error(err))
	}

	o.logger.Info("Order completed",
		zap.Int64("order_id", orderID),
		zap.String("order_code", order.OrderCode),
		zap.Int("completed_tasks", len(completed)),
		zap.Int("failed_tasks", len(failed)))

	return true, nil
}

// EnrollAndVerify enrolls the proxy account in the task's course, then
// polls the persisted task until the enrolled status is readable back.
// A download must never be dispatched for a course the proxy account
// has not durably joined. The caller decides what a non-verified
// outcome does to the task; this method only records the enrolled
// transition itself.
func (o *Orchestrator) EnrollAndVerify(ctx context.Context, task *models.Task) (EnrollOutcome, string) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.EnrollAndVerify")
	defer span.End()

	util.EnrollAttemptsTotal.Inc()

	enrollCtx, cancel := context.WithTimeout(ctx, o.cfg.EnrollTimeout)
	result, err := o.enroll.Enroll(enrollCtx, task.CourseURL)
	cancel()
	if err != nil {
		util.EnrollFailedTotal.WithLabelValues("error").Inc()
		o.logger.Error("Enrollment call failed",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", task.CourseURL),
			zap.Error(err))
		return EnrollErrored, err.Error()
	}

	if !result.Success {
		util.EnrollFailedTotal.WithLabelValues("rejected").Inc()
		o.logger.Warn("Enrollment rejected",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", task.CourseURL),
			zap.String("message", result.Message))
		if result.Message == "" {
			return EnrollRejected, "enrollment rejected"
		}
		return EnrollRejected, result.Message
	}

	// a success flag alone is not enough: the client must also report
	// the enrolled status, otherwise the course may merely be queued on
	// the platform and the download would run against nothing
	if !strings.EqualFold(result.Status, EnrollStatusEnrolled) {
		util.EnrollFailedTotal.WithLabelValues("rejected").Inc()
		o.logger.Warn("Enrollment response did not report enrolled",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", task.CourseURL),
			zap.String("status", result.Status))
		return EnrollRejected, fmt.Sprintf("enrollment reported status %q", result.Status)
	}

	if result.Title != "" && task.Title == "" {
		if err := o.tasks.SetTaskTitle(ctx, task.ID, result.Title); err != nil {
			o.logger.Warn("Failed to store course title", zap.Int64("task_id", task.ID), zap.Error(err))
		} else {
			task.Title = result.Title
		}
	}

	moved, err := o.tasks.TransitionTask(ctx, task.ID, task.Status, models.TaskStatusEnrolled)
	if err != nil {
		o.logger.Error("Failed to record enrollment",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	} else if moved {
		task.Status = models.TaskStatusEnrolled
	}

	if !o.verifyEnrolled(ctx, task.ID) {
		util.EnrollVerifyTimeoutsTotal.Inc()
		o.logger.Warn("Enrollment verification timed out, task left for inspection",
			zap.Int64("task_id", task.ID),
			zap.Int("attempts", o.cfg.VerifyAttempts))
		o.recordAudit(ctx, task, "enroll_verify_timeout", "warn",
			"persisted status did not read back as enrolled")
		return EnrollVerifyTimeout, ""
	}

	task.Status = models.TaskStatusEnrolled
	if err := o.events.PublishTaskEnrolled(ctx, task); err != nil {
		o.logger.Error("Failed to publish task enrolled event", zap.Error(err))
	}

	return EnrollVerified, ""
}

// verifyEnrolled polls the stored task until its status reads back as
// enrolled, or the polling window runs out
func (o *Orchestrator) verifyEnrolled(ctx context.Context, taskID int64) bool {
	for attempt := 0; attempt < o.cfg.VerifyAttempts; attempt++ {
		fresh, err := o.tasks.GetTaskByID(ctx, taskID)
		if err != nil {
			o.logger.Warn("Verification read failed",
				zap.Int64("task_id", taskID),
				zap.Error(err))
		} else if fresh.Status == models.TaskStatusEnrolled {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(o.cfg.VerifyInterval):
		}
	}
	return false
}

// Dispatch pushes the task's download job to the worker queue. Delivery
// is at-least-once: the task stays enrolled whether or not the push
// succeeds, so the recovery sweep can re-queue the job if it is lost,
// and the worker callback is the only thing that advances the task.
func (o *Orchestrator) Dispatch(ctx context.Context, task *models.Task) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Dispatch")
	defer span.End()

	job := models.DownloadJob{
		TaskID:    task.ID,
		Email:     task.Email,
		CourseURL: task.CourseURL,
		JobID:     fmt.Sprintf("task-%d", task.ID),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	if err := o.queue.EnqueueDownload(dispatchCtx, job); err != nil {
		util.DispatchFailedTotal.Inc()
		return fmt.Errorf("failed to enqueue download: %w", err)
	}

	util.JobsDispatchedTotal.Inc()

	if err := o.events.PublishTaskDispatched(ctx, task, job.JobID); err != nil {
		o.logger.Error("Failed to publish task dispatched event", zap.Error(err))
	}

	o.logger.Info("Download job dispatched",
		zap.Int64("task_id", task.ID),
		zap.String("job_id", job.JobID),
		zap.String("course_url", task.CourseURL))

	return nil
}

// failTask marks a task failed and publishes the failure
func (o *Orchestrator) failTask(ctx context.Context, task *models.Task, reason string) {
	marked, err := o.tasks.MarkTaskFailed(ctx, task.ID, reason)
	if err != nil {
		o.logger.Error("Failed to mark task failed",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		return
	}
	if !marked {
		return
	}

	task.Status = models.TaskStatusFailed
	util.TasksFailedTotal.WithLabelValues("enroll").Inc()
	o.recordAudit(ctx, task, "task_failed", "error", reason)

	if err := o.events.PublishTaskFailed(ctx, task, reason); err != nil {
		o.logger.Error("Failed to publish task failed event", zap.Error(err))
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, task *models.Task, eventType, severity, message string) {
	if err := o.audit.RecordFulfillmentEvent(ctx, task.OrderID, &task.ID, eventType, severity, message); err != nil {
		o.logger.Warn("Failed to record audit event",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	}
}
