package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbita/neurolink/internal/genai"
	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/priority"
)

type fakeStore struct {
	created []model.Notification
	pending []model.Notification

	sent        map[uuid.UUID]model.Metadata
	failed      map[uuid.UUID]model.Metadata
	rescheduled map[uuid.UUID]time.Time
	metadata    map[uuid.UUID]model.Metadata
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sent:        make(map[uuid.UUID]model.Metadata),
		failed:      make(map[uuid.UUID]model.Metadata),
		rescheduled: make(map[uuid.UUID]time.Time),
		metadata:    make(map[uuid.UUID]model.Metadata),
	}
}

func (s *fakeStore) Create(_ context.Context, n model.Notification) (uuid.UUID, error) {
	n.ID = uuid.New()
	s.created = append(s.created, n)
	return n.ID, nil
}

func (s *fakeStore) ListPending(context.Context, time.Time, int) ([]model.Notification, error) {
	return s.pending, nil
}

func (s *fakeStore) ListPendingByUser(context.Context, uuid.UUID) ([]model.Notification, error) {
	return s.pending, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id uuid.UUID, _ time.Time, meta model.Metadata) error {
	s.sent[id] = meta
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, meta model.Metadata) error {
	s.failed[id] = meta
	return nil
}

func (s *fakeStore) Reschedule(_ context.Context, id uuid.UUID, at time.Time, _ model.Metadata) error {
	s.rescheduled[id] = at
	return nil
}

func (s *fakeStore) UpdateMetadata(_ context.Context, id uuid.UUID, meta model.Metadata) error {
	s.metadata[id] = meta
	return nil
}

type fakeUsers struct {
	user     model.User
	userErr  error
	settings model.Settings
}

func (f *fakeUsers) GetUser(context.Context, uuid.UUID) (model.User, error) {
	return f.user, f.userErr
}

func (f *fakeUsers) GetSettings(context.Context, uuid.UUID) (model.Settings, error) {
	return f.settings, nil
}

type fakeTasks struct {
	task model.Task
	err  error
}

func (f *fakeTasks) GetTask(context.Context, uuid.UUID) (model.Task, error) {
	return f.task, f.err
}

type fakeGenerator struct {
	content genai.Content
	err     error
	calls   int
}

func (f *fakeGenerator) Generate(context.Context, model.NotificationContext) (genai.Content, error) {
	f.calls++
	return f.content, f.err
}

type fakeEngagement struct {
	ec model.EngagementContext
}

func (f *fakeEngagement) Context(_ context.Context, userID uuid.UUID, now time.Time) model.EngagementContext {
	ec := f.ec
	ec.UserID = userID
	ec.ComputedAt = now
	return ec
}

type fakeDuplicates struct{ dup bool }

func (f *fakeDuplicates) IsDuplicate(context.Context, uuid.UUID, *uuid.UUID, model.Type, time.Time) bool {
	return f.dup
}

type fakeLimiter struct{ deny bool }

func (f *fakeLimiter) CanSendWith(context.Context, model.Settings, time.Time) bool {
	return !f.deny
}

type fakeTransport struct {
	err   error
	calls int
}

func (f *fakeTransport) Send(context.Context, model.Notification, model.User, model.Settings) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "delivered", nil
}

type fixture struct {
	store      *fakeStore
	users      *fakeUsers
	tasks      *fakeTasks
	generator  *fakeGenerator
	duplicates *fakeDuplicates
	limiter    *fakeLimiter
	transport  *fakeTransport
	manager    *Manager
	userID     uuid.UUID
	now        time.Time
}

// newFixture builds a manager whose clock is pinned to noon UTC, well inside
// the default delivery window.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	userID := uuid.New()
	settings := model.DefaultSettings(userID)
	settings.Timezone = "UTC"

	f := &fixture{
		store: newFakeStore(),
		users: &fakeUsers{
			user:     model.User{ID: userID, Name: "Dana", Email: "dana@example.com", Level: 3, Streak: 4},
			settings: settings,
		},
		tasks:      &fakeTasks{},
		generator:  &fakeGenerator{content: genai.Content{Title: "Hey", Message: "Keep going", Tone: "casual", Emoji: "🔥", GeneratedWithAI: true}},
		duplicates: &fakeDuplicates{},
		limiter:    &fakeLimiter{},
		transport:  &fakeTransport{},
		userID:     userID,
		now:        time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	f.manager = NewManager(
		f.store, f.users, f.tasks, f.generator,
		&fakeEngagement{ec: model.EngagementContext{Engagement: 0.5}},
		f.duplicates, f.limiter,
		priority.NewCalculator(priority.DefaultWeights()),
		map[string]Transport{"email": f.transport},
		Options{},
	)
	f.manager.now = func() time.Time { return f.now }

	return f
}

func TestEnqueue_PersistsPendingNotification(t *testing.T) {
	f := newFixture(t)

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeReminder,
	})
	require.NoError(t, err)
	require.NotNil(t, n)

	require.Len(t, f.store.created, 1)
	created := f.store.created[0]
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, "Hey", created.Title)
	assert.True(t, created.Metadata.GeneratedWithAI)
	assert.NotNil(t, created.Metadata.ContextSnapshot)
	assert.GreaterOrEqual(t, created.Priority, priority.MinPriority)
	assert.LessOrEqual(t, created.Priority, priority.MaxPriority)
	assert.Equal(t, f.now, created.ScheduledAt)
}

func TestEnqueue_TypePreferenceDoesNotSuppress(t *testing.T) {
	f := newFixture(t)

	// PROGRESS is absent from the default enabled_types; the preference is
	// informational and must not drop the notification.
	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeProgress,
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Len(t, f.store.created, 1)
	assert.Equal(t, model.TypeProgress, f.store.created[0].Type)
}

func TestEnqueue_UnknownUserFails(t *testing.T) {
	f := newFixture(t)
	f.users.userErr = errors.New("user not found")

	_, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeReminder,
	})
	assert.Error(t, err)
	assert.Empty(t, f.store.created)
}

func TestEnqueue_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.deny = true

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeReminder,
	})
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, f.store.created)
}

func TestEnqueue_DuplicateSuppressed(t *testing.T) {
	f := newFixture(t)
	f.duplicates.dup = true
	taskID := uuid.New()

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		TaskID: &taskID,
		Type:   model.TypeReminder,
	})
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, f.store.created)
}

func TestEnqueue_FallbackWhenGenerationFails(t *testing.T) {
	f := newFixture(t)
	f.generator.err = errors.New("model unavailable")

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeMotivation,
	})
	require.NoError(t, err)
	require.NotNil(t, n)

	assert.False(t, n.Metadata.GeneratedWithAI)
	assert.NotEmpty(t, n.Title)
	assert.NotEmpty(t, n.Message)
}

func TestEnqueue_DefersToWindowStart(t *testing.T) {
	f := newFixture(t)
	// 23:30 is past the default 22:00 window end.
	f.now = time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeReminder,
	})
	require.NoError(t, err)
	require.NotNil(t, n)

	assert.Equal(t, time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), n.ScheduledAt)
}

func TestEnqueue_AlertHeldByQuietHours(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeAlert,
	})
	require.NoError(t, err)
	require.NotNil(t, n)

	// Quiet hours hold even for alerts.
	assert.Equal(t, time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), n.ScheduledAt)
}

func TestEnqueue_AlertImmediateInsideWindow(t *testing.T) {
	f := newFixture(t)

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeAlert,
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, f.now, n.ScheduledAt)
}

func TestEnqueue_DelayNeverExpedited(t *testing.T) {
	f := newFixture(t)

	n, err := f.manager.Enqueue(context.Background(), Request{
		UserID: f.userID,
		Type:   model.TypeReminder,
		Delay:  2 * time.Hour,
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, f.now.Add(2*time.Hour), n.ScheduledAt)
}

func TestProcessQueue_DeliversDueNotification(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.store.pending = []model.Notification{{
		ID:          id,
		UserID:      f.userID,
		Type:        model.TypeReminder,
		Status:      model.StatusPending,
		ScheduledAt: f.now.Add(-time.Minute),
	}}

	delivered, err := f.manager.ProcessQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, model.StatusSent, delivered[0].Status)
	assert.NotNil(t, delivered[0].SentAt)
	assert.Equal(t, 1, f.transport.calls)

	meta, ok := f.store.sent[id]
	require.True(t, ok)
	assert.Equal(t, "delivered", meta.DeliveryResult)
}

func TestProcessQueue_RetriesOnTransportError(t *testing.T) {
	f := newFixture(t)
	f.transport.err = errors.New("smtp timeout")
	id := uuid.New()
	f.store.pending = []model.Notification{{
		ID:          id,
		UserID:      f.userID,
		Type:        model.TypeReminder,
		Status:      model.StatusPending,
		ScheduledAt: f.now.Add(-time.Minute),
	}}

	delivered, err := f.manager.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delivered)

	meta, ok := f.store.metadata[id]
	require.True(t, ok, "notification should stay pending with retry metadata")
	assert.Equal(t, 1, meta.RetryCount)
	assert.Contains(t, meta.LastError, "smtp timeout")
	assert.Empty(t, f.store.failed)
}

func TestProcessQueue_FailsAfterAttemptBudget(t *testing.T) {
	f := newFixture(t)
	f.transport.err = errors.New("smtp timeout")
	id := uuid.New()
	pending := model.Notification{
		ID:          id,
		UserID:      f.userID,
		Type:        model.TypeReminder,
		Status:      model.StatusPending,
		ScheduledAt: f.now.Add(-time.Minute),
		Metadata:    model.Metadata{RetryCount: DefaultMaxAttempts - 1},
	}

	// Failure number maxAttempts still leaves the notification pending.
	f.store.pending = []model.Notification{pending}
	_, err := f.manager.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.store.failed)
	meta, ok := f.store.metadata[id]
	require.True(t, ok)
	assert.Equal(t, DefaultMaxAttempts, meta.RetryCount)

	// The next one, failure maxAttempts+1, evicts it.
	pending.Metadata = meta
	f.store.pending = []model.Notification{pending}
	_, err = f.manager.ProcessQueue(context.Background())
	require.NoError(t, err)
	meta, ok = f.store.failed[id]
	require.True(t, ok)
	assert.Equal(t, DefaultMaxAttempts+1, meta.RetryCount)
}

func TestProcessQueue_ReschedulesOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	id := uuid.New()
	f.store.pending = []model.Notification{{
		ID:          id,
		UserID:      f.userID,
		Type:        model.TypeAlert,
		Status:      model.StatusPending,
		ScheduledAt: f.now.Add(-time.Minute),
	}}

	delivered, err := f.manager.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delivered)
	assert.Zero(t, f.transport.calls)

	at, ok := f.store.rescheduled[id]
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), at)
}

func TestProcessQueue_SkipsWhenBusy(t *testing.T) {
	f := newFixture(t)
	f.store.pending = []model.Notification{{
		ID:          uuid.New(),
		UserID:      f.userID,
		Status:      model.StatusPending,
		ScheduledAt: f.now.Add(-time.Minute),
	}}

	f.manager.busy.Store(true)
	delivered, err := f.manager.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delivered)
	assert.Zero(t, f.transport.calls)
}

func TestScheduleTaskEvent_CreatedWithDeadline(t *testing.T) {
	f := newFixture(t)
	due := f.now.Add(48 * time.Hour)
	taskID := uuid.New()
	task := model.Task{ID: taskID, UserID: f.userID, Name: "Write report", Points: 10, DueAt: &due}
	f.tasks.task = task

	created, err := f.manager.ScheduleTaskEvent(context.Background(), model.TaskCreated, task)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	// Motivation goes out now; the reminder leads the deadline by 24h.
	require.Len(t, f.store.created, 2)
	assert.Equal(t, model.TypeMotivation, f.store.created[0].Type)
	assert.Equal(t, model.TypeReminder, f.store.created[1].Type)
	assert.Equal(t, due.Add(-24*time.Hour), f.store.created[1].ScheduledAt)
}

func TestScheduleTaskEvent_CompletedCelebrates(t *testing.T) {
	f := newFixture(t)

	// Default settings must not get in the way: the achievement goes out
	// even though ACHIEVEMENT is not in the default enabled_types.
	taskID := uuid.New()
	task := model.Task{ID: taskID, UserID: f.userID, Name: "Write report", Points: 10, Completed: true}
	f.tasks.task = task

	created, err := f.manager.ScheduleTaskEvent(context.Background(), model.TaskCompleted, task)
	require.NoError(t, err)
	assert.Len(t, created, 1)

	require.Len(t, f.store.created, 1)
	assert.Equal(t, model.TypeAchievement, f.store.created[0].Type)
}

func TestScheduleTaskEvent_UnknownEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.ScheduleTaskEvent(context.Background(), model.TaskEvent("TASK_RENAMED"), model.Task{})
	assert.Error(t, err)
}

func TestReminderDelay(t *testing.T) {
	f := newFixture(t)

	makeTask := func(until time.Duration) model.Task {
		due := f.now.Add(until)
		return model.Task{DueAt: &due}
	}

	tests := []struct {
		name  string
		task  model.Task
		delay time.Duration
		ok    bool
	}{
		{"no deadline", model.Task{}, 0, false},
		{"already overdue", makeTask(-time.Hour), 0, false},
		{"tight deadline leads by 1h", makeTask(3 * time.Hour), 2 * time.Hour, true},
		{"day deadline leads by 3h", makeTask(20 * time.Hour), 17 * time.Hour, true},
		{"multi-day leads by 24h", makeTask(48 * time.Hour), 24 * time.Hour, true},
		{"distant leads by 48h", makeTask(200 * time.Hour), 152 * time.Hour, true},
		{"lead past now clamps to zero", makeTask(30 * time.Minute), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, ok := f.manager.reminderDelay(tt.task)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.delay, delay)
		})
	}
}
