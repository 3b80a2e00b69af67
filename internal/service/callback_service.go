package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// driveFolderIDRe extracts the file ID from a drive folder link
var driveFolderIDRe = regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`)

// DownloadCallback is the payload the external download worker posts
// back when a job finishes
type DownloadCallback struct {
	TaskID     int64  `json:"taskId" binding:"required"`
	Status     string `json:"status" binding:"required"`
	DriveLink  string `json:"driveLink,omitempty"`
	FolderName string `json:"folderName,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CallbackService finalizes tasks when the download worker reports back
type CallbackService struct {
	tasks        TaskStore
	catalog      CatalogStore
	audit        AuditStore
	orchestrator *Orchestrator
	drive        PermissionGranter
	events       EventPublisher
	findRetries  int
	retryDelay   time.Duration
	logger       *zap.Logger
}

// NewCallbackService creates a callback service
func NewCallbackService(
	tasks TaskStore,
	catalog CatalogStore,
	audit AuditStore,
	orchestrator *Orchestrator,
	drive PermissionGranter,
	events EventPublisher,
	findRetries int,
	retryDelay time.Duration,
) *CallbackService {
	return &CallbackService{
		tasks:        tasks,
		catalog:      catalog,
		audit:        audit,
		orchestrator: orchestrator,
		drive:        drive,
		events:       events,
		findRetries:  findRetries,
		retryDelay:   retryDelay,
		logger:       util.GetLogger(),
	}
}

// HandleCallback processes one worker callback. Replays are harmless:
// a task that already reached a terminal status is acknowledged without
// being touched.
func (cs *CallbackService) HandleCallback(ctx context.Context, cb *DownloadCallback) error {
	ctx, span := util.StartSpan(ctx, "CallbackService.HandleCallback")
	defer span.End()

	task, err := cs.tasks.GetTaskByID(ctx, cb.TaskID)
	if err != nil {
		return fmt.Errorf("callback for unknown task %d: %w", cb.TaskID, err)
	}

	if models.IsFinal(task.Status) {
		cs.logger.Info("Callback replay for finalized task",
			zap.Int64("task_id", task.ID),
			zap.String("status", task.Status))
		return nil
	}

	if cb.Status != "completed" {
		reason := cb.Error
		if reason == "" {
			reason = "download failed"
		}
		cs.failTask(ctx, task, reason)
		return cs.checkOrderCompletion(ctx, task)
	}

	link, fileID := cb.DriveLink, extractDriveFileID(cb.DriveLink)
	if link == "" {
		folder := cs.findFolderWithRetry(ctx, cb.FolderName)
		if folder != nil {
			link, fileID = folder.WebLink, folder.ID
		}
	}

	// a download without a reachable drive folder delivered nothing
	if link == "" {
		cs.failTask(ctx, task, "download reported complete but no drive folder was found")
		return cs.checkOrderCompletion(ctx, task)
	}

	if fileID != "" {
		if err := cs.drive.GrantRead(ctx, fileID, task.Email); err != nil {
			cs.logger.Error("Failed to grant drive access",
				zap.Int64("task_id", task.ID),
				zap.String("email", task.Email),
				zap.Error(err))
			cs.failTask(ctx, task, fmt.Sprintf("drive access grant failed: %v", err))
			return cs.checkOrderCompletion(ctx, task)
		}
	}

	done, err := cs.tasks.CompleteTask(ctx, task.ID, link)
	if err != nil {
		return fmt.Errorf("failed to complete task %d: %w", task.ID, err)
	}
	if done {
		task.Status = models.TaskStatusCompleted
		task.DriveLink = &link
		util.TasksCompletedTotal.Inc()

		if err := cs.events.PublishTaskCompleted(ctx, task, link); err != nil {
			cs.logger.Error("Failed to publish task completed event", zap.Error(err))
		}

		cs.logger.Info("Task completed",
			zap.Int64("task_id", task.ID),
			zap.String("drive_link", link))
	}

	// standalone permanent downloads feed the shared catalog so future
	// orders for the same course are served from the archive
	if task.Origin == models.TaskOriginAdmin && task.CourseType == models.CourseTypePermanent {
		cs.propagateToCatalog(ctx, task, link)
	}

	return cs.checkOrderCompletion(ctx, task)
}

// findFolderWithRetry polls the drive for the worker's folder. The
// worker may report completion a moment before the folder is visible.
func (cs *CallbackService) findFolderWithRetry(ctx context.Context, name string) *DriveFolder {
	if name == "" {
		return nil
	}

	for attempt := 0; attempt < cs.findRetries; attempt++ {
		folder, err := cs.drive.FindFolder(ctx, name)
		if err != nil {
			cs.logger.Warn("Drive folder lookup failed",
				zap.String("folder_name", name),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		} else if folder != nil {
			return folder
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cs.retryDelay):
		}
	}

	return nil
}

func (cs *CallbackService) propagateToCatalog(ctx context.Context, task *models.Task, link string) {
	urls := []string{task.CourseURL}
	if public, err := util.PublicCourseURL(task.CourseURL); err == nil && public != task.CourseURL {
		urls = append(urls, public)
	}

	n, err := cs.catalog.SetCourseDriveLink(ctx, link, urls...)
	if err != nil {
		cs.logger.Error("Failed to propagate drive link to catalog",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", task.CourseURL),
			zap.Error(err))
		return
	}
	if n > 0 {
		cs.logger.Info("Drive link propagated to catalog",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", task.CourseURL))
	}
}

func (cs *CallbackService) failTask(ctx context.Context, task *models.Task, reason string) {
	marked, err := cs.tasks.MarkTaskFailed(ctx, task.ID, reason)
	if err != nil {
		cs.logger.Error("Failed to mark task failed",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		return
	}
	if !marked {
		return
	}

	task.Status = models.TaskStatusFailed
	util.TasksFailedTotal.WithLabelValues("download").Inc()

	if err := cs.audit.RecordFulfillmentEvent(ctx, task.OrderID, &task.ID, "task_failed", "error", reason); err != nil {
		cs.logger.Warn("Failed to record audit event", zap.Error(err))
	}

	if err := cs.events.PublishTaskFailed(ctx, task, reason); err != nil {
		cs.logger.Error("Failed to publish task failed event", zap.Error(err))
	}

	cs.logger.Warn("Task failed",
		zap.Int64("task_id", task.ID),
		zap.String("reason", reason))
}

func (cs *CallbackService) checkOrderCompletion(ctx context.Context, task *models.Task) error {
	if task.OrderID == nil {
		return nil
	}
	_, err := cs.orchestrator.CompleteOrderIfDone(ctx, *task.OrderID)
	return err
}

// extractDriveFileID pulls the folder ID out of a drive web link
func extractDriveFileID(link string) string {
	m := driveFolderIDRe.FindStringSubmatch(link)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}
