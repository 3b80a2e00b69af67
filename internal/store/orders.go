package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
)

// Payment confirmation outcomes
const (
	PaymentConfirmed     = "confirmed"
	PaymentAlreadyPaid   = "already_paid"
	PaymentOrderNotFound = "order_not_found"
	PaymentUnderpaid     = "underpaid"
)

// PaymentConfirmation is the result of a webhook confirmation attempt
type PaymentConfirmation struct {
	Outcome        string
	Order          *models.Order
	TasksActivated int64
	ExpectedAmount int64
	ReceivedAmount int64
}

// CreateOrderWithTasks creates an order, derives its order code from the
// generated id, and inserts its tasks, all in one transaction. The order
// code is assigned exactly once and never changes afterwards.
func (s *Store) CreateOrderWithTasks(ctx context.Context, order *models.Order, tasks []*models.Task) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (order_code, user_email, total_amount, payment_status, order_status)
		VALUES ('', $1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		order.UserEmail, order.TotalAmount, models.PaymentStatusPending, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	order.OrderCode = fmt.Sprintf("DH%06d", order.ID)
	order.PaymentStatus = models.PaymentStatusPending
	order.OrderStatus = models.OrderStatusPending

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET order_code = $1 WHERE id = $2", order.OrderCode, order.ID); err != nil {
		return fmt.Errorf("failed to assign order code: %w", err)
	}

	for _, task := range tasks {
		task.OrderID = &order.ID
		err := tx.GetContext(ctx, task, `
			INSERT INTO tasks (order_id, origin, email, course_url, raw_url, course_type,
			                   title, price, status, drive_link, retry_count, category)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)
			RETURNING id, created_at, updated_at`,
			task.OrderID, task.Origin, task.Email, task.CourseURL, task.RawURL,
			task.CourseType, task.Title, task.Price, task.Status, task.DriveLink, task.Category)
		if err != nil {
			return fmt.Errorf("failed to insert task for %s: %w", task.CourseURL, err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByCode retrieves an order by its code, case-insensitively
func (s *Store) GetOrderByCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE order_code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkOrderCompleted flips an order's fulfillment status to completed.
// The guard makes completion exactly-once under concurrent callbacks:
// the caller that sees true owns the completion side effects.
func (s *Store) MarkOrderCompleted(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, updated_at = NOW() WHERE id = $2 AND order_status <> $1",
		models.OrderStatusCompleted, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConfirmOrderPaymentTx processes a payment confirmation for an order in
// a single transaction. The order row is locked FOR UPDATE so concurrent
// webhook redeliveries for the same order serialize here. Once an order
// is paid the method is a no-op; payment state is forward-only.
//
// The transferred amount must be at least the expected amount minus the
// tolerance, otherwise nothing is mutated and the order stays pending.
// On confirmation the order flips to paid/processing and all of its
// still-pending tasks flip to processing; tasks that already advanced
// past pending from a prior partial run are left untouched.
func (s *Store) ConfirmOrderPaymentTx(ctx context.Context, orderCode string, amount, tolerance int64, gatewayData []byte) (*PaymentConfirmation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	normalized := strings.ToUpper(strings.TrimSpace(orderCode))

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE order_code = $1 FOR UPDATE", normalized)
	if err == sql.ErrNoRows {
		return &PaymentConfirmation{Outcome: PaymentOrderNotFound, ReceivedAmount: amount}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		return &PaymentConfirmation{
			Outcome:        PaymentAlreadyPaid,
			Order:          &order,
			ExpectedAmount: order.TotalAmount,
			ReceivedAmount: amount,
		}, nil
	}

	if order.TotalAmount-amount > tolerance {
		return &PaymentConfirmation{
			Outcome:        PaymentUnderpaid,
			Order:          &order,
			ExpectedAmount: order.TotalAmount,
			ReceivedAmount: amount,
		}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, order_status = $2, gateway_data = $3, updated_at = NOW()
		WHERE id = $4`,
		models.PaymentStatusPaid, models.OrderStatusProcessing, gatewayData, order.ID); err != nil {
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW()
		WHERE order_id = $2 AND status = $3`,
		models.TaskStatusProcessing, order.ID, models.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to activate tasks: %w", err)
	}
	activated, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment confirmation: %w", err)
	}

	order.PaymentStatus = models.PaymentStatusPaid
	order.OrderStatus = models.OrderStatusProcessing
	order.GatewayData = gatewayData

	return &PaymentConfirmation{
		Outcome:        PaymentConfirmed,
		Order:          &order,
		TasksActivated: activated,
		ExpectedAmount: order.TotalAmount,
		ReceivedAmount: amount,
	}, nil
}
