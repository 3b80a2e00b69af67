package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

type fakeTasks struct {
	byStatus map[string][]models.Task
}

func (f *fakeTasks) FindStuckTasks(_ context.Context, statuses []string, _ time.Duration, _ int) ([]models.Task, error) {
	var out []models.Task
	for _, s := range statuses {
		out = append(out, f.byStatus[s]...)
	}
	return out, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	pending  []models.DownloadJob
	lockHeld bool
}

func (f *fakeQueue) PendingJobs(_ context.Context) ([]models.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeQueue) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockHeld {
		return false, nil
	}
	f.lockHeld = true
	return true, nil
}

func (f *fakeQueue) ReleaseLock(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockHeld = false
	return nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []int64
}

func (f *fakeDispatcher) Dispatch(_ context.Context, task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, task.ID)
	return nil
}

func stuckTask(id int64, status string) models.Task {
	return models.Task{
		ID:        id,
		Status:    status,
		CourseURL: "https://samsungu.udemy.com/course/go-basics/",
		UpdatedAt: time.Now().Add(-time.Hour),
	}
}

func TestSweepRedispatchesLostJobs(t *testing.T) {
	tasks := &fakeTasks{byStatus: map[string][]models.Task{
		models.TaskStatusEnrolled: {stuckTask(1, models.TaskStatusEnrolled), stuckTask(2, models.TaskStatusEnrolled)},
	}}
	// task 2's job is still queued, only task 1 was lost
	queue := &fakeQueue{pending: []models.DownloadJob{{JobID: "task-2"}}}
	dispatcher := &fakeDispatcher{}

	w := NewRecoveryWorker(tasks, queue, dispatcher, time.Minute, 15*time.Minute)
	w.Sweep(context.Background())

	assert.Equal(t, []int64{1}, dispatcher.dispatched)
}

func TestSweepDoesNotRedispatchProcessingTasks(t *testing.T) {
	tasks := &fakeTasks{byStatus: map[string][]models.Task{
		models.TaskStatusProcessing: {stuckTask(3, models.TaskStatusProcessing)},
	}}
	queue := &fakeQueue{}
	dispatcher := &fakeDispatcher{}

	w := NewRecoveryWorker(tasks, queue, dispatcher, time.Minute, 15*time.Minute)
	w.Sweep(context.Background())

	assert.Empty(t, dispatcher.dispatched,
		"stalled enrollments are reported, never re-run")
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	tasks := &fakeTasks{byStatus: map[string][]models.Task{
		models.TaskStatusEnrolled: {stuckTask(1, models.TaskStatusEnrolled)},
	}}
	queue := &fakeQueue{lockHeld: true}
	dispatcher := &fakeDispatcher{}

	w := NewRecoveryWorker(tasks, queue, dispatcher, time.Minute, 15*time.Minute)
	w.Sweep(context.Background())

	assert.Empty(t, dispatcher.dispatched)
}

func TestStartStop(t *testing.T) {
	tasks := &fakeTasks{byStatus: map[string][]models.Task{}}
	w := NewRecoveryWorker(tasks, &fakeQueue{}, &fakeDispatcher{}, 10*time.Millisecond, time.Minute)

	go w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()
}
