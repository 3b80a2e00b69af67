package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It keeps
// the same transition guards so the services see the real semantics.
type fakeStore struct {
	mu      sync.Mutex
	orders  map[int64]*models.Order
	tasks   map[int64]*models.Task
	courses map[int64]*models.Course
	nextID  int64
	audits  []string

	// delayEnrollReads simulates replication lag: a transition into
	// enrolled is accepted but only becomes readable after this many
	// subsequent reads of the task.
	delayEnrollReads map[int64]int
	pendingEnroll    map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:           make(map[int64]*models.Order),
		tasks:            make(map[int64]*models.Task),
		courses:          make(map[int64]*models.Course),
		delayEnrollReads: make(map[int64]int),
		pendingEnroll:    make(map[int64]bool),
	}
}

func (f *fakeStore) nextSeq() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateOrderWithTasks(_ context.Context, order *models.Order, tasks []*models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order.ID = f.nextSeq()
	order.OrderCode = fmt.Sprintf("DH%06d", order.ID)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp

	for _, task := range tasks {
		task.ID = f.nextSeq()
		task.OrderID = &order.ID
		task.CreatedAt = time.Now()
		task.UpdatedAt = task.CreatedAt
		tcp := *task
		f.tasks[task.ID] = &tcp
	}
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderByCode(_ context.Context, code string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, o := range f.orders {
		if o.OrderCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkOrderCompleted(_ context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order not found: %d", orderID)
	}
	if o.OrderStatus == models.OrderStatusCompleted {
		return false, nil
	}
	o.OrderStatus = models.OrderStatusCompleted
	o.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) ConfirmOrderPaymentTx(_ context.Context, orderCode string, amount, tolerance int64, gatewayData []byte) (*store.PaymentConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	orderCode = strings.ToUpper(strings.TrimSpace(orderCode))
	var order *models.Order
	for _, o := range f.orders {
		if o.OrderCode == orderCode {
			order = o
			break
		}
	}
	if order == nil {
		return &store.PaymentConfirmation{Outcome: store.PaymentOrderNotFound}, nil
	}

	cp := *order
	if order.PaymentStatus == models.PaymentStatusPaid {
		return &store.PaymentConfirmation{Outcome: store.PaymentAlreadyPaid, Order: &cp}, nil
	}
	if order.TotalAmount-amount > tolerance {
		return &store.PaymentConfirmation{
			Outcome:        store.PaymentUnderpaid,
			Order:          &cp,
			ExpectedAmount: order.TotalAmount,
			ReceivedAmount: amount,
		}, nil
	}

	order.PaymentStatus = models.PaymentStatusPaid
	order.OrderStatus = models.OrderStatusProcessing
	order.GatewayData = gatewayData
	order.UpdatedAt = time.Now()

	var activated int64
	for _, t := range f.tasks {
		if t.OrderID != nil && *t.OrderID == order.ID && t.Status == models.TaskStatusPending {
			t.Status = models.TaskStatusProcessing
			t.UpdatedAt = time.Now()
			activated++
		}
	}

	cp = *order
	return &store.PaymentConfirmation{
		Outcome:        store.PaymentConfirmed,
		Order:          &cp,
		TasksActivated: activated,
		ExpectedAmount: order.TotalAmount,
		ReceivedAmount: amount,
	}, nil
}

func (f *fakeStore) CreateTask(_ context.Context, task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.ID = f.nextSeq()
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeStore) GetTaskByID(_ context.Context, id int64) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %d", id)
	}
	if f.pendingEnroll[id] {
		if f.delayEnrollReads[id] > 0 {
			f.delayEnrollReads[id]--
		} else {
			t.Status = models.TaskStatusEnrolled
			delete(f.pendingEnroll, id)
		}
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) GetTasksByOrderID(_ context.Context, orderID int64) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.OrderID != nil && *t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetTasksByOrderAndStatus(_ context.Context, orderID int64, status string) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.OrderID != nil && *t.OrderID == orderID && t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) TransitionTask(_ context.Context, taskID int64, from, to string) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal task transition %s -> %s", from, to)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status != from {
		return false, nil
	}
	if to == models.TaskStatusEnrolled && f.delayEnrollReads[taskID] > 0 {
		f.pendingEnroll[taskID] = true
		return true, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) SetTaskTitle(_ context.Context, taskID int64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.Title = title
	}
	return nil
}

func (f *fakeStore) MarkTaskFailed(_ context.Context, taskID int64, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || !models.CanTransition(t.Status, models.TaskStatusFailed) {
		return false, nil
	}
	t.Status = models.TaskStatusFailed
	t.ErrorLog = &reason
	t.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) CompleteTask(_ context.Context, taskID int64, driveLink string) (bool, error) {
	if driveLink == "" {
		return false, fmt.Errorf("cannot complete task %d without a drive link", taskID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || !models.CanTransition(t.Status, models.TaskStatusCompleted) {
		return false, nil
	}
	t.Status = models.TaskStatusCompleted
	t.DriveLink = &driveLink
	t.ErrorLog = nil
	t.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) ResetTaskForReplay(_ context.Context, taskID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status != models.TaskStatusFailed {
		return false, nil
	}
	t.Status = models.TaskStatusProcessing
	t.RetryCount++
	t.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) FindCompletedPermanentTask(_ context.Context, urls ...string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.Status != models.TaskStatusCompleted || t.CourseType != models.CourseTypePermanent || t.DriveLink == nil {
			continue
		}
		for _, u := range urls {
			if t.CourseURL == u {
				cp := *t
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) FindStuckTasks(_ context.Context, statuses []string, olderThan time.Duration, limit int) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []models.Task
	for _, t := range f.tasks {
		if t.OrderID == nil || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		o, ok := f.orders[*t.OrderID]
		if !ok || o.PaymentStatus != models.PaymentStatusPaid {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, *t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountInProgressTasks(_ context.Context, orderID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if t.OrderID != nil && *t.OrderID == orderID && models.IsInProgress(t.Status) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetCourseByID(_ context.Context, id int64) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[id]
	if !ok {
		return nil, fmt.Errorf("course not found: %d", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) FindCourseWithDriveLink(_ context.Context, urls ...string) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.courses {
		if c.DriveLink == nil {
			continue
		}
		for _, u := range urls {
			if c.CourseURL == u {
				cp := *c
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) SetCourseDriveLink(_ context.Context, driveLink string, urls ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.courses {
		if c.DriveLink != nil {
			continue
		}
		for _, u := range urls {
			if c.CourseURL == u {
				link := driveLink
				c.DriveLink = &link
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakeStore) RecordFulfillmentEvent(_ context.Context, orderID, taskID *int64, eventType, severity, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, eventType)
	return nil
}

func (f *fakeStore) addCourse(url, driveLink string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSeq()
	c := &models.Course{ID: id, CourseURL: url}
	if driveLink != "" {
		c.DriveLink = &driveLink
	}
	f.courses[id] = c
}

func (f *fakeStore) taskByID(id int64) models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tasks[id]
}

// fakeEnroller scripts enrollment outcomes per course URL. Unscripted
// URLs succeed.
type fakeEnroller struct {
	mu      sync.Mutex
	results map[string]*models.EnrollResult
	errs    map[string]error
	calls   []string
}

func newFakeEnroller() *fakeEnroller {
	return &fakeEnroller{
		results: make(map[string]*models.EnrollResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeEnroller) Enroll(_ context.Context, courseURL string) (*models.EnrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, courseURL)
	if err := f.errs[courseURL]; err != nil {
		return nil, err
	}
	if r := f.results[courseURL]; r != nil {
		return r, nil
	}
	return &models.EnrollResult{Success: true, Status: "enrolled"}, nil
}

func (f *fakeEnroller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeQueue records dispatched jobs
type fakeQueue struct {
	mu      sync.Mutex
	jobs    []models.DownloadJob
	failErr error
}

func (f *fakeQueue) EnqueueDownload(_ context.Context, job models.DownloadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	// same refusal as the real dispatcher
	if job.TaskID == 0 || job.Email == "" || job.CourseURL == "" {
		return fmt.Errorf("incomplete download job: taskId=%d email=%q courseUrl=%q",
			job.TaskID, job.Email, job.CourseURL)
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeQueue) allJobs() []models.DownloadJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DownloadJob(nil), f.jobs...)
}

// fakeEvents counts published event types
type fakeEvents struct {
	mu              sync.Mutex
	published       []string
	completedOrders []int64
}

func (f *fakeEvents) record(eventType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, eventType)
}

func (f *fakeEvents) PublishOrderCreated(_ context.Context, order *models.Order, taskCount int) error {
	f.record(models.EventTypeOrderCreated)
	return nil
}

func (f *fakeEvents) PublishOrderPaid(_ context.Context, order *models.Order, notif *models.PaymentNotification, tasksActivated int64) error {
	f.record(models.EventTypeOrderPaid)
	return nil
}

func (f *fakeEvents) PublishOrderCompleted(_ context.Context, order *models.Order, completed, failed []models.TaskBrief) error {
	f.mu.Lock()
	f.completedOrders = append(f.completedOrders, order.ID)
	f.mu.Unlock()
	f.record(models.EventTypeOrderCompleted)
	return nil
}

func (f *fakeEvents) PublishTaskEnrolled(_ context.Context, task *models.Task) error {
	f.record(models.EventTypeTaskEnrolled)
	return nil
}

func (f *fakeEvents) PublishTaskDispatched(_ context.Context, task *models.Task, jobID string) error {
	f.record(models.EventTypeTaskDispatched)
	return nil
}

func (f *fakeEvents) PublishTaskCompleted(_ context.Context, task *models.Task, driveLink string) error {
	f.record(models.EventTypeTaskCompleted)
	return nil
}

func (f *fakeEvents) PublishTaskFailed(_ context.Context, task *models.Task, reason string) error {
	f.record(models.EventTypeTaskFailed)
	return nil
}

func (f *fakeEvents) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.published {
		if e == eventType {
			n++
		}
	}
	return n
}

// fakeDrive scripts folder lookups and records grants
type fakeDrive struct {
	mu           sync.Mutex
	folders      map[string]*DriveFolder
	visibleAfter map[string]int
	grants       []string
	grantErr     error
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders:      make(map[string]*DriveFolder),
		visibleAfter: make(map[string]int),
	}
}

func (f *fakeDrive) FindFolder(_ context.Context, name string) (*DriveFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visibleAfter[name] > 0 {
		f.visibleAfter[name]--
		return nil, nil
	}
	return f.folders[name], nil
}

func (f *fakeDrive) GrantRead(_ context.Context, fileID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return f.grantErr
	}
	f.grants = append(f.grants, fileID+"|"+email)
	return nil
}

func (f *fakeDrive) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

func testFulfillmentConfig() config.FulfillmentConfig {
	return config.FulfillmentConfig{
		VerifyAttempts:  3,
		VerifyInterval:  time.Millisecond,
		EnrollTimeout:   time.Second,
		DispatchTimeout: time.Second,
	}
}

func newTestOrchestrator(fs *fakeStore, enroller EnrollmentClient, queue QueueDispatcher, events EventPublisher) *Orchestrator {
	return NewOrchestrator(fs, fs, fs, enroller, queue, newFakeDrive(), events, testFulfillmentConfig())
}
