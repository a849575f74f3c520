// Package notification exposes the application-facing operations on top of
// the queue, the repositories and the status cache.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/priority"
	"github.com/orbita/neurolink/internal/queue"
	notificationrepo "github.com/orbita/neurolink/internal/repository/notification"
	"github.com/orbita/neurolink/internal/timewindow"
)

var (
	// ErrNotOwner is returned when a user acts on someone else's notification.
	ErrNotOwner = errors.New("notification belongs to another user")

	// ErrAlreadyTerminal is returned when a transition targets a settled
	// notification.
	ErrAlreadyTerminal = errors.New("notification is already in a terminal status")
)

var feedbackKinds = map[string]bool{
	"helpful":    true,
	"irrelevant": true,
	"annoying":   true,
}

type enqueuer interface {
	Enqueue(ctx context.Context, req queue.Request) (*model.Notification, error)
	ScheduleTaskEvent(ctx context.Context, event model.TaskEvent, task model.Task) ([]model.Notification, error)
}

type taskStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)
}

type notificationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Notification, error)
	GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error)
	ListByUser(ctx context.Context, userID uuid.UUID, f notificationrepo.Filter) ([]model.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	CreateFeedback(ctx context.Context, fb model.Feedback) (uuid.UUID, error)
}

type settingsStore interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) error
}

// Service wires the queue and repositories behind one API surface.
type Service struct {
	queue         enqueuer
	notifications notificationStore
	tasks         taskStore
	settings      settingsStore
	calculator    *priority.Calculator
	cache         *redis.Client
	strategy      retry.Strategy
}

// New creates a notification service. cache may be nil.
func New(
	q enqueuer,
	notifications notificationStore,
	tasks taskStore,
	settings settingsStore,
	calculator *priority.Calculator,
	cache *redis.Client,
	strategy retry.Strategy,
) *Service {
	return &Service{
		queue:         q,
		notifications: notifications,
		tasks:         tasks,
		settings:      settings,
		calculator:    calculator,
		cache:         cache,
		strategy:      strategy,
	}
}

// HandleTaskEvent resolves the task and fans the lifecycle event out into
// notifications.
func (s *Service) HandleTaskEvent(ctx context.Context, event model.TaskEvent, taskID uuid.UUID) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = s.queue.ScheduleTaskEvent(ctx, event, task)
	return err
}

// Create runs the admission pipeline for one notification request. A nil
// notification with a nil error means the request was dropped by a guard.
func (s *Service) Create(ctx context.Context, req queue.Request) (*model.Notification, error) {
	n, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	if n != nil {
		s.cacheStatus(ctx, n.ID, n.Status)
	}
	return n, nil
}

// GetByID retrieves a notification, enforcing ownership.
func (s *Service) GetByID(ctx context.Context, userID, id uuid.UUID) (model.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}
	if n.UserID != userID {
		return model.Notification{}, ErrNotOwner
	}
	return n, nil
}

// GetStatusByID returns a notification's status, preferring the cache.
func (s *Service) GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	if s.cache != nil {
		cached, err := s.cache.GetWithRetry(ctx, s.strategy, statusKey(id))
		if err == nil && cached != "" {
			return model.Status(cached), nil
		}
		if err != nil && !errors.Is(err, goredis.Nil) {
			zlog.Logger.Warn().Err(err).Msg("status cache read failed")
		}
	}

	status, err := s.notifications.GetStatusByID(ctx, id)
	if err != nil {
		return "", err
	}

	s.cacheStatus(ctx, id, status)
	return status, nil
}

// ListByUser returns a user's notifications, optionally filtered.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, f notificationrepo.Filter) ([]model.Notification, error) {
	return s.notifications.ListByUser(ctx, userID, f)
}

// MarkRead transitions a delivered notification to READ. The read timestamp
// is set exactly once; marking an already read notification is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	n, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}

	switch n.Status {
	case model.StatusRead:
		return nil
	case model.StatusSent:
	default:
		return fmt.Errorf("%w: cannot read a %s notification", ErrAlreadyTerminal, n.Status)
	}

	if err := s.notifications.MarkRead(ctx, id, time.Now()); err != nil {
		return err
	}
	s.cacheStatus(ctx, id, model.StatusRead)
	return nil
}

// Dismiss settles a notification without reading it. PENDING notifications
// are cancelled, SENT ones acknowledged away.
func (s *Service) Dismiss(ctx context.Context, userID, id uuid.UUID) error {
	n, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if n.Status.Terminal() {
		return fmt.Errorf("%w: cannot dismiss a %s notification", ErrAlreadyTerminal, n.Status)
	}

	if err := s.notifications.UpdateStatus(ctx, id, model.StatusDismissed); err != nil {
		return err
	}
	s.cacheStatus(ctx, id, model.StatusDismissed)
	return nil
}

// RecordFeedback stores a user's reaction to one of their notifications.
func (s *Service) RecordFeedback(ctx context.Context, fb model.Feedback) (uuid.UUID, error) {
	if !feedbackKinds[fb.Kind] {
		return uuid.Nil, fmt.Errorf("unknown feedback kind %q", fb.Kind)
	}
	if _, err := s.GetByID(ctx, fb.UserID, fb.NotificationID); err != nil {
		return uuid.Nil, err
	}
	return s.notifications.CreateFeedback(ctx, fb)
}

// GetSettings returns a user's notification settings.
func (s *Service) GetSettings(ctx context.Context, userID uuid.UUID) (model.Settings, error) {
	return s.settings.GetSettings(ctx, userID)
}

// UpdateSettings validates and stores a user's notification settings.
func (s *Service) UpdateSettings(ctx context.Context, settings model.Settings) error {
	w := timewindow.Window{Start: settings.QuietHoursStart, End: settings.QuietHoursEnd}
	if err := w.Validate(); err != nil {
		return err
	}
	for _, t := range settings.EnabledTypes {
		if !t.Valid() {
			return fmt.Errorf("unknown notification type %q", t)
		}
	}
	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", settings.Timezone)
		}
	}
	if settings.MaxPerDay < 0 {
		return errors.New("max_per_day must not be negative")
	}

	return s.settings.UpdateSettings(ctx, settings)
}

// Weights returns the live priority factor configuration.
func (s *Service) Weights() priority.Stats {
	return s.calculator.Stats()
}

// UpdateWeights swaps the priority factor weights at runtime.
func (s *Service) UpdateWeights(raw map[string]float64) error {
	return s.calculator.UpdateWeights(raw)
}

// Stats reports queue depth per status, today's delivery volume and the
// scoring configuration.
type Stats struct {
	Queue     map[model.Status]int `json:"queue"`
	SentToday int                  `json:"sent_today"`
	Scorer    priority.Stats       `json:"scorer"`
}

// Stats returns operational counters. "Today" starts at UTC midnight.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.notifications.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sentToday, err := s.notifications.CountSentSince(ctx, midnight)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Queue: counts, SentToday: sentToday, Scorer: s.calculator.Stats()}, nil
}

func statusKey(id uuid.UUID) string {
	return "notification:status:" + id.String()
}

func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status model.Status) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetWithRetry(ctx, s.strategy, statusKey(id), string(status)); err != nil {
		zlog.Logger.Warn().Err(err).Msg("status cache write failed")
	}
}
