package broker

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes fulfillment lifecycle events. Downstream
// consumers include the external mailer, which reacts to
// OrderCompleted by notifying the customer.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func taskKey(orderID *int64, taskID int64) string {
	// Keep one order's events on one partition so consumers see them in order
	if orderID != nil {
		return orderKey(*orderID)
	}
	return fmt.Sprintf("task-%d", taskID)
}

// PublishOrderCreated publishes an OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order, taskCount int) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderCode:   order.OrderCode,
		UserEmail:   order.UserEmail,
		TotalAmount: order.TotalAmount,
		TaskCount:   taskCount,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderPaid publishes an OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, order *models.Order, notif *models.PaymentNotification, tasksActivated int64) error {
	event := &models.OrderPaidEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderPaid),
		OrderID:        order.ID,
		OrderCode:      order.OrderCode,
		Amount:         notif.TransferAmount,
		Gateway:        notif.Gateway,
		ReferenceCode:  notif.ReferenceCode,
		TasksActivated: tasksActivated,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderCompleted publishes an OrderCompleted event
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, order *models.Order, completed, failed []models.TaskBrief) error {
	event := &models.OrderCompletedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderCompleted),
		OrderID:        order.ID,
		OrderCode:      order.OrderCode,
		UserEmail:      order.UserEmail,
		CompletedTasks: completed,
		FailedTasks:    failed,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishTaskEnrolled publishes a TaskEnrolled event
func (ep *EventPublisher) PublishTaskEnrolled(ctx context.Context, task *models.Task) error {
	event := &models.TaskEnrolledEvent{
		BaseEvent: newBaseEvent(models.EventTypeTaskEnrolled),
		TaskID:    task.ID,
		OrderID:   task.OrderID,
		CourseURL: task.CourseURL,
	}
	return ep.producer.PublishEvent(ctx, taskKey(task.OrderID, task.ID), event)
}

// PublishTaskDispatched publishes a TaskDispatched event
func (ep *EventPublisher) PublishTaskDispatched(ctx context.Context, task *models.Task, jobID string) error {
	event := &models.TaskDispatchedEvent{
		BaseEvent: newBaseEvent(models.EventTypeTaskDispatched),
		TaskID:    task.ID,
		OrderID:   task.OrderID,
		JobID:     jobID,
		CourseURL: task.CourseURL,
	}
	return ep.producer.PublishEvent(ctx, taskKey(task.OrderID, task.ID), event)
}

// PublishTaskCompleted publishes a TaskCompleted event
func (ep *EventPublisher) PublishTaskCompleted(ctx context.Context, task *models.Task, driveLink string) error {
	event := &models.TaskCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeTaskCompleted),
		TaskID:    task.ID,
		OrderID:   task.OrderID,
		DriveLink: driveLink,
	}
	return ep.producer.PublishEvent(ctx, taskKey(task.OrderID, task.ID), event)
}

// PublishTaskFailed publishes a TaskFailed event
func (ep *EventPublisher) PublishTaskFailed(ctx context.Context, task *models.Task, reason string) error {
	event := &models.TaskFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeTaskFailed),
		TaskID:    task.ID,
		OrderID:   task.OrderID,
		Reason:    reason,
	}
	return ep.producer.PublishEvent(ctx, taskKey(task.OrderID, task.ID), event)
}
