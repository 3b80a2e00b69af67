package models

import (
	"encoding/json"
	"time"
)

// Order represents a customer's paid request for one or more courses
type Order struct {
	ID            int64           `db:"id" json:"id"`
	OrderCode     string          `db:"order_code" json:"order_code"`
	UserEmail     string          `db:"user_email" json:"user_email"`
	TotalAmount   int64           `db:"total_amount" json:"total_amount"`
	PaymentStatus string          `db:"payment_status" json:"payment_status"`
	OrderStatus   string          `db:"order_status" json:"order_status"`
	GatewayData   json.RawMessage `db:"gateway_data" json:"gateway_data,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Task represents one per-course unit of fulfillment work
type Task struct {
	ID         int64     `db:"id" json:"id"`
	OrderID    *int64    `db:"order_id" json:"order_id,omitempty"`
	Origin     string    `db:"origin" json:"origin"`
	Email      string    `db:"email" json:"email"`
	CourseURL  string    `db:"course_url" json:"course_url"`
	RawURL     string    `db:"raw_url" json:"raw_url,omitempty"`
	CourseType string    `db:"course_type" json:"course_type"`
	Title      string    `db:"title" json:"title,omitempty"`
	Price      int64     `db:"price" json:"price"`
	Status     string    `db:"status" json:"status"`
	DriveLink  *string   `db:"drive_link" json:"drive_link,omitempty"`
	RetryCount int       `db:"retry_count" json:"retry_count"`
	ErrorLog   *string   `db:"error_log" json:"error_log,omitempty"`
	Category   string    `db:"category" json:"category,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Course represents an entry in the shared course catalog
type Course struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	CourseURL string    `db:"course_url" json:"course_url"`
	DriveLink *string   `db:"drive_link" json:"drive_link,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
)

// Task statuses
const (
	TaskStatusPending     = "pending"
	TaskStatusProcessing  = "processing"
	TaskStatusEnrolled    = "enrolled"
	TaskStatusDownloading = "downloading"
	TaskStatusCompleted   = "completed"
	TaskStatusFailed      = "failed"
)

// Task origins
const (
	TaskOriginPurchase = "purchase"
	TaskOriginAdmin    = "admin"
)

// Course types
const (
	CourseTypeTemporary = "temporary"
	CourseTypePermanent = "permanent"
)

// taskTransitions defines the forward edges of the task state machine.
// The only backward edge, failed -> processing, is an explicit
// administrative replay and is not part of the normal graph.
var taskTransitions = map[string][]string{
	TaskStatusPending:     {TaskStatusProcessing},
	TaskStatusProcessing:  {TaskStatusEnrolled, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusEnrolled:    {TaskStatusDownloading, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusDownloading: {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransition reports whether a task may move from one status to another
func CanTransition(from, to string) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionsFrom returns the statuses a given target status may be reached from
func TransitionsFrom(to string) []string {
	var from []string
	for s, targets := range taskTransitions {
		for _, t := range targets {
			if t == to {
				from = append(from, s)
			}
		}
	}
	return from
}

// IsInProgress reports whether a task status indicates work is still pending
func IsInProgress(status string) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusEnrolled, TaskStatusDownloading:
		return true
	}
	return false
}

// IsFinal reports whether a task status is terminal
func IsFinal(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed
}

// PaymentNotification is the inbound payload from the payment gateway
type PaymentNotification struct {
	Gateway         string `json:"gateway"`
	TransactionDate string `json:"transactionDate"`
	AccountNumber   string `json:"accountNumber"`
	Code            string `json:"code"`
	Content         string `json:"content"`
	TransferType    string `json:"transferType"`
	TransferAmount  int64  `json:"transferAmount"`
	ReferenceCode   string `json:"referenceCode"`
}

// DownloadJob is the unit of work handed to the external download worker
type DownloadJob struct {
	TaskID    int64  `json:"taskId"`
	Email     string `json:"email"`
	CourseURL string `json:"courseUrl"`
	JobID     string `json:"jobId"`
	Timestamp string `json:"timestamp"`
}

// EnrollResult is the transient per-course outcome of an enrollment attempt
type EnrollResult struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	CourseID int64  `json:"courseId,omitempty"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
}
