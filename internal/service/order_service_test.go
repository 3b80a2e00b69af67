package service

import (
	"context"
	"testing"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(fs *fakeStore, events *fakeEvents) *OrderService {
	return NewOrderService(fs, fs, fs, events, pricing.NewCalculator())
}

func TestCreateOrderDedupesAndPricesCombo(t *testing.T) {
	fs := newFakeStore()
	events := &fakeEvents{}
	svc := newTestOrderService(fs, events)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email: "Buyer@Example.com",
		Courses: []CourseRequest{
			{URL: "https://www.udemy.com/course/go-basics/?couponCode=AUG"},
			{URL: "https://samsungu.udemy.com/course/go-basics/"}, // same course, different host
			{URL: "https://www.udemy.com/course/go-advanced/"},
			{URL: "https://www.udemy.com/course/docker/"},
			{URL: "https://www.udemy.com/course/kubernetes/"},
			{URL: "https://www.udemy.com/course/postgres/"},
			{URL: "https://evil.example.com/course/free-stuff/"}, // not the platform
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, resp.TaskCount)
	assert.Equal(t, int64(99000), resp.TotalAmount, "5 unique courses hit the combo price")
	assert.Regexp(t, `^DH\d{6}$`, resp.OrderCode)

	tasks, _ := fs.GetTasksByOrderID(context.Background(), resp.OrderID)
	require.Len(t, tasks, 5)

	var sum int64
	for _, task := range tasks {
		sum += task.Price
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.Equal(t, models.TaskOriginPurchase, task.Origin)
		assert.Equal(t, "buyer@example.com", task.Email)
		assert.Contains(t, task.CourseURL, "samsungu.udemy.com")
	}
	assert.Equal(t, int64(99000), sum, "per-task prices sum exactly to the order total")

	assert.Equal(t, 1, events.count(models.EventTypeOrderCreated))
}

func TestCreateOrderPerCoursePricing(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeEvents{})

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email: "buyer@example.com",
		Courses: []CourseRequest{
			{URL: "https://www.udemy.com/course/go-basics/"},
			{URL: "https://www.udemy.com/course/go-advanced/"},
			{URL: "https://www.udemy.com/course/docker/"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3*39000), resp.TotalAmount)

	tasks, _ := fs.GetTasksByOrderID(context.Background(), resp.OrderID)
	for _, task := range tasks {
		assert.Equal(t, int64(39000), task.Price)
	}
}

func TestCreateOrderPermanentShortCircuit(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeEvents{})

	// the archive already holds this course
	fs.addCourse("https://samsungu.udemy.com/course/go-basics/",
		"https://drive.google.com/drive/folders/existing123")

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email:      "buyer@example.com",
		CourseType: models.CourseTypePermanent,
		Courses: []CourseRequest{
			{URL: "https://www.udemy.com/course/go-basics/"},
			{URL: "https://www.udemy.com/course/go-advanced/"},
		},
	})
	require.NoError(t, err)

	tasks, _ := fs.GetTasksByOrderID(context.Background(), resp.OrderID)
	require.Len(t, tasks, 2)

	archived, fresh := tasks[0], tasks[1]
	assert.Equal(t, models.TaskStatusCompleted, archived.Status)
	require.NotNil(t, archived.DriveLink)
	assert.Equal(t, "https://drive.google.com/drive/folders/existing123", *archived.DriveLink)

	assert.Equal(t, models.TaskStatusPending, fresh.Status)
	assert.Nil(t, fresh.DriveLink)

	// archived copies are still paid for
	assert.Equal(t, int64(2*39000), resp.TotalAmount)
}

func TestCreateOrderTemporaryNeverShortCircuits(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeEvents{})

	fs.addCourse("https://samsungu.udemy.com/course/go-basics/",
		"https://drive.google.com/drive/folders/existing123")

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email:   "buyer@example.com",
		Courses: []CourseRequest{{URL: "https://www.udemy.com/course/go-basics/"}},
	})
	require.NoError(t, err)

	tasks, _ := fs.GetTasksByOrderID(context.Background(), resp.OrderID)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)
	assert.Nil(t, tasks[0].DriveLink)
}

func TestCreateOrderRejectsEmptyOrder(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeEvents{})

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email: "buyer@example.com",
		Courses: []CourseRequest{
			{URL: "https://evil.example.com/course/x/"},
			{URL: "not a url"},
		},
	})
	assert.Error(t, err)
}

func TestCreateOrderRejectsUnknownCourseType(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeEvents{})

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email:      "buyer@example.com",
		CourseType: "eternal",
		Courses:    []CourseRequest{{URL: "https://www.udemy.com/course/go-basics/"}},
	})
	assert.Error(t, err)
}

func TestGetOrderByCode(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeEvents{})

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		Email:   "buyer@example.com",
		Courses: []CourseRequest{{URL: "https://www.udemy.com/course/go-basics/"}},
	})
	require.NoError(t, err)

	order, tasks, err := svc.GetOrderByCode(context.Background(), "  "+resp.OrderCode+" ")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, resp.OrderID, order.ID)
	assert.Len(t, tasks, 1)

	missing, _, err := svc.GetOrderByCode(context.Background(), "DH999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
