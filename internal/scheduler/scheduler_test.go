package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/queue"
)

type fakeQueue struct {
	events   []model.TaskEvent
	requests []queue.Request
	eventErr error
}

func (f *fakeQueue) ProcessQueue(context.Context) ([]model.Notification, error) { return nil, nil }

func (f *fakeQueue) ScheduleTaskEvent(_ context.Context, event model.TaskEvent, _ model.Task) ([]model.Notification, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	f.events = append(f.events, event)
	return nil, nil
}

func (f *fakeQueue) Enqueue(_ context.Context, req queue.Request) (*model.Notification, error) {
	f.requests = append(f.requests, req)
	return nil, nil
}

type fakeTasks struct {
	due      []model.Task
	overdue  []model.Task
	notified []uuid.UUID
	marked   []uuid.UUID
}

func (f *fakeTasks) ListDueWithin(context.Context, time.Time, time.Duration) ([]model.Task, error) {
	return f.due, nil
}

func (f *fakeTasks) ListOverdueIncomplete(context.Context, time.Time) ([]model.Task, error) {
	return f.overdue, nil
}

func (f *fakeTasks) MarkDeadlineNotified(_ context.Context, id uuid.UUID) error {
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeTasks) MarkOverdue(_ context.Context, id uuid.UUID) error {
	f.marked = append(f.marked, id)
	return nil
}

type fakeNotifications struct {
	cutoff   time.Time
	statuses []model.Status
	deleted  int64
}

func (f *fakeNotifications) DeleteOlderThan(_ context.Context, cutoff time.Time, statuses []model.Status) (int64, error) {
	f.cutoff = cutoff
	f.statuses = statuses
	return f.deleted, nil
}

type fakeUsers struct {
	active []model.User
}

func (f *fakeUsers) ListRecentlyActive(context.Context, time.Time) ([]model.User, error) {
	return f.active, nil
}

func newScheduler(t *testing.T, q *fakeQueue, tasks *fakeTasks, notifications *fakeNotifications, users *fakeUsers) *Scheduler {
	t.Helper()
	s, err := New(q, tasks, notifications, users, Options{})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(&fakeQueue{}, &fakeTasks{}, &fakeNotifications{}, &fakeUsers{}, Options{
		DrainSpec: "not a cron spec",
	})
	assert.Error(t, err)
}

func TestSweepDeadlines(t *testing.T) {
	q := &fakeQueue{}
	tasks := &fakeTasks{due: []model.Task{
		{ID: uuid.New(), UserID: uuid.New(), Name: "a"},
		{ID: uuid.New(), UserID: uuid.New(), Name: "b"},
	}}
	s := newScheduler(t, q, tasks, &fakeNotifications{}, &fakeUsers{})

	require.NoError(t, s.sweepDeadlines(context.Background()))
	assert.Equal(t, []model.TaskEvent{model.TaskDeadlineApproaching, model.TaskDeadlineApproaching}, q.events)
	assert.Len(t, tasks.notified, 2)
}

func TestSweepDeadlines_SkipsTaskOnScheduleError(t *testing.T) {
	q := &fakeQueue{eventErr: errors.New("db down")}
	tasks := &fakeTasks{due: []model.Task{{ID: uuid.New()}}}
	s := newScheduler(t, q, tasks, &fakeNotifications{}, &fakeUsers{})

	require.NoError(t, s.sweepDeadlines(context.Background()))
	assert.Empty(t, tasks.notified, "a task we failed to warn about must stay eligible")
}

func TestSweepOverdue(t *testing.T) {
	q := &fakeQueue{}
	tasks := &fakeTasks{overdue: []model.Task{{ID: uuid.New(), UserID: uuid.New(), Name: "late"}}}
	s := newScheduler(t, q, tasks, &fakeNotifications{}, &fakeUsers{})

	require.NoError(t, s.sweepOverdue(context.Background()))
	assert.Len(t, tasks.marked, 1)
	assert.Equal(t, []model.TaskEvent{model.TaskOverdue}, q.events)
}

func TestCleanup_TargetsOnlyTerminalStatuses(t *testing.T) {
	notifications := &fakeNotifications{deleted: 3}
	s := newScheduler(t, &fakeQueue{}, &fakeTasks{}, notifications, &fakeUsers{})

	require.NoError(t, s.cleanup(context.Background()))
	assert.Equal(t, time.Date(2025, 2, 8, 12, 0, 0, 0, time.UTC), notifications.cutoff)
	assert.ElementsMatch(t,
		[]model.Status{model.StatusRead, model.StatusDismissed, model.StatusFailed},
		notifications.statuses,
	)
	for _, status := range notifications.statuses {
		assert.True(t, status.Terminal())
	}
}

func TestSendInsights(t *testing.T) {
	q := &fakeQueue{}
	users := &fakeUsers{active: []model.User{{ID: uuid.New()}, {ID: uuid.New()}}}
	s := newScheduler(t, &fakeQueue{}, &fakeTasks{}, &fakeNotifications{}, users)
	s.queue = q

	require.NoError(t, s.sendInsights(context.Background()))
	require.Len(t, q.requests, 2)
	for _, req := range q.requests {
		assert.Equal(t, model.TypeInsight, req.Type)
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	s := newScheduler(t, &fakeQueue{}, &fakeTasks{}, &fakeNotifications{}, &fakeUsers{})

	job := s.wrap("panicky", func(context.Context) error {
		panic("boom")
	})
	assert.NotPanics(t, job)
}
