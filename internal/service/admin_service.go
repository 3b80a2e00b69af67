package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AdminService drives standalone downloads and administrative replays.
// Standalone downloads build the permanent archive: they have no order,
// no payment gate, and a failed enrollment does not condemn the task.
type AdminService struct {
	tasks        TaskStore
	catalog      CatalogStore
	orchestrator *Orchestrator
	drive        PermissionGranter
	adminEmail   string
	logger       *zap.Logger
}

// NewAdminService creates an admin service. adminEmail owns standalone
// downloads submitted without a recipient; the queue refuses jobs with
// no email, so the fallback keeps order-less tasks dispatchable.
func NewAdminService(
	tasks TaskStore,
	catalog CatalogStore,
	orchestrator *Orchestrator,
	drive PermissionGranter,
	adminEmail string,
) *AdminService {
	return &AdminService{
		tasks:        tasks,
		catalog:      catalog,
		orchestrator: orchestrator,
		drive:        drive,
		adminEmail:   adminEmail,
		logger:       util.GetLogger(),
	}
}

// StartDownloadRequest asks for a standalone permanent download
type StartDownloadRequest struct {
	URL   string `json:"url" binding:"required"`
	Email string `json:"email,omitempty"`
	Title string `json:"title,omitempty"`
}

// StartDownload creates and fulfills a standalone permanent download.
// When the course already sits in the archive the task is created
// completed with the existing link and no new work is queued.
func (as *AdminService) StartDownload(ctx context.Context, req *StartDownloadRequest) (*models.Task, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.StartDownload")
	defer span.End()

	canonical, err := util.CanonicalCourseURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("unrecognized course URL: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		email = as.adminEmail
	}

	task := &models.Task{
		Origin:     models.TaskOriginAdmin,
		Email:      email,
		CourseURL:  canonical,
		RawURL:     req.URL,
		CourseType: models.CourseTypePermanent,
		Title:      req.Title,
		Status:     models.TaskStatusProcessing,
	}

	if link := lookupArchivedDriveLink(ctx, as.tasks, as.catalog, as.logger, canonical); link != "" {
		task.Status = models.TaskStatusCompleted
		task.DriveLink = &link
	}

	if err := as.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create download task: %w", err)
	}

	if task.Status == models.TaskStatusCompleted {
		as.logger.Info("Download served from archive",
			zap.Int64("task_id", task.ID),
			zap.String("course_url", canonical))
		if req.Email != "" && task.DriveLink != nil {
			if id := extractDriveFileID(*task.DriveLink); id != "" {
				if err := as.drive.GrantRead(ctx, id, req.Email); err != nil {
					as.logger.Error("Failed to grant archive access",
						zap.Int64("task_id", task.ID),
						zap.Error(err))
				}
			}
		}
		return task, nil
	}

	as.logger.Info("Standalone download started",
		zap.Int64("task_id", task.ID),
		zap.String("course_url", canonical))

	taskID := task.ID
	go func() {
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		as.fulfillStandalone(fctx, taskID)
	}()

	return task, nil
}

// fulfillStandalone enrolls and dispatches an admin task. A failed
// enrollment is logged and the task stays processing: the course may
// already be joined from an earlier run, so the download is queued
// either way and the worker has the final word.
func (as *AdminService) fulfillStandalone(ctx context.Context, taskID int64) {
	task, err := as.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		as.logger.Error("Standalone task vanished", zap.Int64("task_id", taskID), zap.Error(err))
		return
	}

	outcome, detail := as.orchestrator.EnrollAndVerify(ctx, task)
	switch outcome {
	case EnrollRejected, EnrollErrored:
		as.logger.Warn("Standalone enrollment did not verify, queueing download anyway",
			zap.Int64("task_id", task.ID),
			zap.String("detail", detail))
	case EnrollVerifyTimeout:
		as.logger.Warn("Standalone enrollment verification timed out, queueing download anyway",
			zap.Int64("task_id", task.ID))
	}

	if err := as.orchestrator.Dispatch(ctx, task); err != nil {
		as.logger.Error("Standalone dispatch failed",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	}
}

// ResetTask is the administrative replay of a failed task: the single
// backward edge of the state machine. The task returns to processing
// with its retry counter bumped and fulfillment runs again under the
// policy of its origin.
func (as *AdminService) ResetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.ResetTask")
	defer span.End()

	moved, err := as.tasks.ResetTaskForReplay(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset task %d: %w", taskID, err)
	}
	if !moved {
		return nil, fmt.Errorf("task %d is not in a failed state", taskID)
	}

	task, err := as.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	as.logger.Info("Task reset for replay",
		zap.Int64("task_id", task.ID),
		zap.Int("retry_count", task.RetryCount))

	go func() {
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		as.replay(fctx, taskID)
	}()

	return task, nil
}

func (as *AdminService) replay(ctx context.Context, taskID int64) {
	task, err := as.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		as.logger.Error("Replay task vanished", zap.Int64("task_id", taskID), zap.Error(err))
		return
	}

	if task.Origin == models.TaskOriginAdmin {
		as.fulfillStandalone(ctx, taskID)
		return
	}

	outcome, detail := as.orchestrator.EnrollAndVerify(ctx, task)
	switch outcome {
	case EnrollRejected, EnrollErrored:
		as.orchestrator.failTask(ctx, task, detail)
		return
	case EnrollVerifyTimeout:
		return
	}

	if err := as.orchestrator.Dispatch(ctx, task); err != nil {
		as.logger.Error("Replay dispatch failed",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	}
}
