package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeTaskEnrolled   = "TASK_ENROLLED"
	EventTypeTaskDispatched = "TASK_DISPATCHED"
	EventTypeTaskCompleted  = "TASK_COMPLETED"
	EventTypeTaskFailed     = "TASK_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderCode   string `json:"order_code"`
	UserEmail   string `json:"user_email"`
	TotalAmount int64  `json:"total_amount"`
	TaskCount   int    `json:"task_count"`
}

// OrderPaidEvent published when the payment webhook confirms payment
type OrderPaidEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	OrderCode      string `json:"order_code"`
	Amount         int64  `json:"amount"`
	Gateway        string `json:"gateway"`
	ReferenceCode  string `json:"reference_code"`
	TasksActivated int64  `json:"tasks_activated"`
}

// OrderCompletedEvent published when every task of an order has reached a
// terminal status. The external mailer consumes this to notify the customer.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID        int64       `json:"order_id"`
	OrderCode      string      `json:"order_code"`
	UserEmail      string      `json:"user_email"`
	CompletedTasks []TaskBrief `json:"completed_tasks"`
	FailedTasks    []TaskBrief `json:"failed_tasks"`
}

// TaskEnrolledEvent published when a task is verified as enrolled
type TaskEnrolledEvent struct {
	BaseEvent
	TaskID    int64  `json:"task_id"`
	OrderID   *int64 `json:"order_id,omitempty"`
	CourseURL string `json:"course_url"`
}

// TaskDispatchedEvent published when a download job is pushed to the queue
type TaskDispatchedEvent struct {
	BaseEvent
	TaskID    int64  `json:"task_id"`
	OrderID   *int64 `json:"order_id,omitempty"`
	JobID     string `json:"job_id"`
	CourseURL string `json:"course_url"`
}

// TaskCompletedEvent published when the download worker callback completes a task
type TaskCompletedEvent struct {
	BaseEvent
	TaskID    int64  `json:"task_id"`
	OrderID   *int64 `json:"order_id,omitempty"`
	DriveLink string `json:"drive_link"`
}

// TaskFailedEvent published when a task is marked failed
type TaskFailedEvent struct {
	BaseEvent
	TaskID  int64  `json:"task_id"`
	OrderID *int64 `json:"order_id,omitempty"`
	Reason  string `json:"reason"`
}

// TaskBrief is the per-task summary carried in order-level events
type TaskBrief struct {
	TaskID    int64  `json:"task_id"`
	Title     string `json:"title,omitempty"`
	CourseURL string `json:"course_url"`
	DriveLink string `json:"drive_link,omitempty"`
}
