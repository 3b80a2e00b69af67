package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/lib/pq"
)

// CreateTask inserts a standalone task (admin downloads have no order)
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	return s.db.GetContext(ctx, task, `
		INSERT INTO tasks (order_id, origin, email, course_url, raw_url, course_type,
		                   title, price, status, drive_link, retry_count, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)
		RETURNING id, created_at, updated_at`,
		task.OrderID, task.Origin, task.Email, task.CourseURL, task.RawURL,
		task.CourseType, task.Title, task.Price, task.Status, task.DriveLink, task.Category)
}

// GetTaskByID retrieves a task by ID
func (s *Store) GetTaskByID(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTasksByOrderID retrieves all tasks belonging to an order
func (s *Store) GetTasksByOrderID(ctx context.Context, orderID int64) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.SelectContext(ctx, &tasks,
		"SELECT * FROM tasks WHERE order_id = $1 ORDER BY id", orderID)
	return tasks, err
}

// GetTasksByOrderAndStatus retrieves an order's tasks in a given status
func (s *Store) GetTasksByOrderAndStatus(ctx context.Context, orderID int64, status string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.SelectContext(ctx, &tasks,
		"SELECT * FROM tasks WHERE order_id = $1 AND status = $2 ORDER BY id", orderID, status)
	return tasks, err
}

// TransitionTask moves a task from one status to another. The WHERE
// clause guards monotonicity: the update only lands when the persisted
// status still equals the expected source status, so stale or replayed
// writers lose the race instead of rewinding the state machine.
func (s *Store) TransitionTask(ctx context.Context, taskID int64, from, to string) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal task transition %s -> %s", from, to)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, taskID, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetTaskTitle stores the course title reported by the platform
func (s *Store) SetTaskTitle(ctx context.Context, taskID int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET title = $1, updated_at = NOW() WHERE id = $2",
		title, taskID)
	return err
}

// MarkTaskFailed sets a task to failed with the failure reason. Only
// non-terminal tasks can fail; completed tasks are never rewound.
func (s *Store) MarkTaskFailed(ctx context.Context, taskID int64, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error_log = $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`,
		models.TaskStatusFailed, reason, taskID,
		pq.Array(models.TransitionsFrom(models.TaskStatusFailed)))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompleteTask sets a task to completed. A completed task always holds
// a drive link; an empty link is rejected here rather than persisted.
func (s *Store) CompleteTask(ctx context.Context, taskID int64, driveLink string) (bool, error) {
	if driveLink == "" {
		return false, fmt.Errorf("cannot complete task %d without a drive link", taskID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, drive_link = $2, error_log = NULL, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`,
		models.TaskStatusCompleted, driveLink, taskID,
		pq.Array(models.TransitionsFrom(models.TaskStatusCompleted)))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ResetTaskForReplay is the single administrative backward edge:
// failed -> processing, bumping the retry counter.
func (s *Store) ResetTaskForReplay(ctx context.Context, taskID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.TaskStatusProcessing, taskID, models.TaskStatusFailed)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FindCompletedPermanentTask looks for an earlier completed permanent
// download of the same course under any URL variant. Used by the
// short-circuit path; temporary courses never call this.
func (s *Store) FindCompletedPermanentTask(ctx context.Context, urls ...string) (*models.Task, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	var task models.Task
	err := s.db.GetContext(ctx, &task, `
		SELECT * FROM tasks
		WHERE course_url = ANY($1)
		  AND status = $2
		  AND course_type = $3
		  AND drive_link IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1`,
		pq.Array(urls), models.TaskStatusCompleted, models.CourseTypePermanent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindStuckTasks returns order-linked tasks sitting in the given
// statuses for longer than the cutoff, oldest first. The recovery
// worker uses this to spot tasks that fell out of the queue.
func (s *Store) FindStuckTasks(ctx context.Context, statuses []string, olderThan time.Duration, limit int) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT t.* FROM tasks t
		JOIN orders o ON o.id = t.order_id
		WHERE t.status = ANY($1)
		  AND o.payment_status = $2
		  AND t.updated_at < NOW() - $3::interval
		ORDER BY t.updated_at ASC
		LIMIT $4`,
		pq.Array(statuses), models.PaymentStatusPaid,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit)
	return tasks, err
}

// CountInProgressTasks counts an order's tasks that are not yet terminal
func (s *Store) CountInProgressTasks(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM tasks
		WHERE order_id = $1 AND status = ANY($2)`,
		orderID, pq.Array([]string{
			models.TaskStatusPending,
			models.TaskStatusProcessing,
			models.TaskStatusEnrolled,
			models.TaskStatusDownloading,
		}))
	return n, err
}
