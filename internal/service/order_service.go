package service

import (
	"context"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/pricing"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// OrderService handles order placement and lookup
type OrderService struct {
	orders  OrderStore
	tasks   TaskStore
	catalog CatalogStore
	events  EventPublisher
	calc    *pricing.Calculator
	logger  *zap.Logger
}

// NewOrderService creates an order service
func NewOrderService(
	orders OrderStore,
	tasks TaskStore,
	catalog CatalogStore,
	events EventPublisher,
	calc *pricing.Calculator,
) *OrderService {
	return &OrderService{
		orders:  orders,
		tasks:   tasks,
		catalog: catalog,
		events:  events,
		calc:    calc,
		logger:  util.GetLogger(),
	}
}

// CourseRequest is one course in an order request
type CourseRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title,omitempty"`
}

// CreateOrderRequest represents a request to place an order
type CreateOrderRequest struct {
	Email      string          `json:"email" binding:"required,email"`
	CourseType string          `json:"course_type,omitempty"`
	Courses    []CourseRequest `json:"courses" binding:"required,min=1"`
}

// CreateOrderResponse represents the response after placing an order
type CreateOrderResponse struct {
	OrderID     int64  `json:"order_id"`
	OrderCode   string `json:"order_code"`
	TotalAmount int64  `json:"total_amount"`
	TaskCount   int    `json:"task_count"`
	Status      string `json:"status"`
}

// CreateOrder places an order: canonicalizes and dedupes the submitted
// course URLs, prices the set, and persists the order with one pending
// task per course in a single transaction. Permanent courses that were
// already downloaded are created completed with the existing drive
// link; they are paid for but skip enrollment and download.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	courseType := strings.TrimSpace(req.CourseType)
	if courseType == "" {
		courseType = models.CourseTypeTemporary
	}
	if courseType != models.CourseTypeTemporary && courseType != models.CourseTypePermanent {
		return nil, fmt.Errorf("unknown course type %q", courseType)
	}

	type orderCourse struct {
		canonical string
		raw       string
		title     string
	}

	seen := make(map[string]bool)
	courses := make([]orderCourse, 0, len(req.Courses))
	for _, c := range req.Courses {
		canonical, err := util.CanonicalCourseURL(c.URL)
		if err != nil {
			s.logger.Info("Skipping unrecognized course URL",
				zap.String("url", c.URL),
				zap.Error(err))
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		courses = append(courses, orderCourse{canonical: canonical, raw: c.URL, title: c.Title})
	}

	if len(courses) == 0 {
		return nil, fmt.Errorf("no valid courses in order")
	}

	total := s.calc.TotalFor(len(courses))

	var prices []int64
	if s.calc.IsCombo(len(courses)) {
		prices = pricing.DistributePrices(total, len(courses))
	} else {
		prices = make([]int64, len(courses))
		for i := range prices {
			prices[i] = s.calc.PerCourse
		}
	}

	order := &models.Order{
		UserEmail:     strings.ToLower(strings.TrimSpace(req.Email)),
		TotalAmount:   total,
		PaymentStatus: models.PaymentStatusPending,
		OrderStatus:   models.OrderStatusPending,
	}

	tasks := make([]*models.Task, 0, len(courses))
	for i, c := range courses {
		task := &models.Task{
			Origin:     models.TaskOriginPurchase,
			Email:      order.UserEmail,
			CourseURL:  c.canonical,
			RawURL:     c.raw,
			CourseType: courseType,
			Title:      c.title,
			Price:      prices[i],
			Status:     models.TaskStatusPending,
		}

		// a permanent course downloaded before is delivered straight
		// from the archive
		if courseType == models.CourseTypePermanent {
			if link := lookupArchivedDriveLink(ctx, s.tasks, s.catalog, s.logger, c.canonical); link != "" {
				task.Status = models.TaskStatusCompleted
				task.DriveLink = &link
			}
		}

		tasks = append(tasks, task)
	}

	if err := s.orders.CreateOrderWithTasks(ctx, order, tasks); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_code", order.OrderCode),
		zap.Int64("total_amount", total),
		zap.Int("task_count", len(tasks)))

	if err := s.events.PublishOrderCreated(ctx, order, len(tasks)); err != nil {
		s.logger.Error("Failed to publish order created event", zap.Error(err))
	}

	return &CreateOrderResponse{
		OrderID:     order.ID,
		OrderCode:   order.OrderCode,
		TotalAmount: total,
		TaskCount:   len(tasks),
		Status:      order.OrderStatus,
	}, nil
}

// GetOrderByCode retrieves an order and its tasks for the status page
func (s *OrderService) GetOrderByCode(ctx context.Context, code string) (*models.Order, []models.Task, error) {
	order, err := s.orders.GetOrderByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, nil
	}

	tasks, err := s.tasks.GetTasksByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}

	return order, tasks, nil
}
