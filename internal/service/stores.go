package service

import (
	"context"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// OrderStore is the order-side persistence the services depend on.
// *store.Store satisfies it; tests substitute in-memory fakes.
type OrderStore interface {
	CreateOrderWithTasks(ctx context.Context, order *models.Order, tasks []*models.Task) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByCode(ctx context.Context, code string) (*models.Order, error)
	MarkOrderCompleted(ctx context.Context, orderID int64) (bool, error)
	ConfirmOrderPaymentTx(ctx context.Context, orderCode string, amount, tolerance int64, gatewayData []byte) (*store.PaymentConfirmation, error)
}

// TaskStore is the task-side persistence the services depend on
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTaskByID(ctx context.Context, id int64) (*models.Task, error)
	GetTasksByOrderID(ctx context.Context, orderID int64) ([]models.Task, error)
	GetTasksByOrderAndStatus(ctx context.Context, orderID int64, status string) ([]models.Task, error)
	TransitionTask(ctx context.Context, taskID int64, from, to string) (bool, error)
	SetTaskTitle(ctx context.Context, taskID int64, title string) error
	MarkTaskFailed(ctx context.Context, taskID int64, reason string) (bool, error)
	CompleteTask(ctx context.Context, taskID int64, driveLink string) (bool, error)
	ResetTaskForReplay(ctx context.Context, taskID int64) (bool, error)
	FindCompletedPermanentTask(ctx context.Context, urls ...string) (*models.Task, error)
	CountInProgressTasks(ctx context.Context, orderID int64) (int, error)
}

// CatalogStore is the shared course catalog
type CatalogStore interface {
	GetCourseByID(ctx context.Context, id int64) (*models.Course, error)
	FindCourseWithDriveLink(ctx context.Context, urls ...string) (*models.Course, error)
	SetCourseDriveLink(ctx context.Context, driveLink string, urls ...string) (int64, error)
}

// AuditStore records fulfillment audit events. Audit failures are
// logged and swallowed by callers; they never break the main flow.
type AuditStore interface {
	RecordFulfillmentEvent(ctx context.Context, orderID, taskID *int64, eventType, severity, message string) error
}

// QueueDispatcher pushes download jobs to the external worker pool.
// At-least-once: a failed dispatch leaves the task re-dispatchable.
type QueueDispatcher interface {
	EnqueueDownload(ctx context.Context, job models.DownloadJob) error
}

// EventPublisher publishes fulfillment lifecycle events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order, taskCount int) error
	PublishOrderPaid(ctx context.Context, order *models.Order, notif *models.PaymentNotification, tasksActivated int64) error
	PublishOrderCompleted(ctx context.Context, order *models.Order, completed, failed []models.TaskBrief) error
	PublishTaskEnrolled(ctx context.Context, task *models.Task) error
	PublishTaskDispatched(ctx context.Context, task *models.Task, jobID string) error
	PublishTaskCompleted(ctx context.Context, task *models.Task, driveLink string) error
	PublishTaskFailed(ctx context.Context, task *models.Task, reason string) error
}
