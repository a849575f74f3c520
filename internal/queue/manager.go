// Package queue implements the notification pipeline: admission, scoring,
// scheduling and batched delivery of the pending queue.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/genai"
	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/priority"
	"github.com/orbita/neurolink/internal/timewindow"
)

const (
	// DefaultBatchSize bounds how many pending notifications one drain
	// pass picks up.
	DefaultBatchSize = 10

	// DefaultMaxAttempts is how many delivery failures a notification
	// survives while staying PENDING; the failure after that marks it
	// FAILED.
	DefaultMaxAttempts = 5
)

type notificationStore interface {
	Create(ctx context.Context, n model.Notification) (uuid.UUID, error)
	ListPending(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, meta model.Metadata) error
	MarkFailed(ctx context.Context, id uuid.UUID, meta model.Metadata) error
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time, meta model.Metadata) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, meta model.Metadata) error
}

type userStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	GetSettings(ctx context.Context, userID uuid.UUID) (model.Settings, error)
}

type taskStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)
}

type contentGenerator interface {
	Generate(ctx context.Context, nc model.NotificationContext) (genai.Content, error)
}

type engagementSource interface {
	Context(ctx context.Context, userID uuid.UUID, now time.Time) model.EngagementContext
}

type duplicateChecker interface {
	IsDuplicate(ctx context.Context, userID uuid.UUID, taskID *uuid.UUID, typ model.Type, now time.Time) bool
}

type rateLimiter interface {
	CanSendWith(ctx context.Context, settings model.Settings, now time.Time) bool
}

// Transport delivers a rendered notification over one channel. It returns a
// short human-readable delivery result for the audit metadata.
type Transport interface {
	Send(ctx context.Context, n model.Notification, user model.User, settings model.Settings) (string, error)
}

// Request asks the manager to consider one notification.
type Request struct {
	UserID    uuid.UUID
	TaskID    *uuid.UUID
	Type      model.Type
	Objective string
	Delay     time.Duration // how far in the future delivery is wanted
}

// Manager owns the pending-notification queue.
type Manager struct {
	notifications notificationStore
	users         userStore
	tasks         taskStore
	generator     contentGenerator
	engagement    engagementSource
	duplicates    duplicateChecker
	limiter       rateLimiter
	calculator    *priority.Calculator
	transports    map[string]Transport

	batchSize   int
	maxAttempts int

	busy atomic.Bool
	now  func() time.Time
}

// Options tunes the manager; zero values take the defaults.
type Options struct {
	BatchSize   int
	MaxAttempts int
}

// NewManager wires the notification pipeline together.
func NewManager(
	notifications notificationStore,
	users userStore,
	tasks taskStore,
	generator contentGenerator,
	engagement engagementSource,
	duplicates duplicateChecker,
	limiter rateLimiter,
	calculator *priority.Calculator,
	transports map[string]Transport,
	opts Options,
) *Manager {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	return &Manager{
		notifications: notifications,
		users:         users,
		tasks:         tasks,
		generator:     generator,
		engagement:    engagement,
		duplicates:    duplicates,
		limiter:       limiter,
		calculator:    calculator,
		transports:    transports,
		batchSize:     opts.BatchSize,
		maxAttempts:   opts.MaxAttempts,
		now:           time.Now,
	}
}

// Enqueue runs the full admission pipeline for one request. It returns the
// persisted notification, or nil when the request was legitimately dropped
// (rate limit, duplicate).
func (m *Manager) Enqueue(ctx context.Context, req Request) (*model.Notification, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown notification type %q", req.Type)
	}

	now := m.now()

	user, err := m.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	settings, err := m.users.GetSettings(ctx, req.UserID)
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", req.UserID.String()).
			Msg("settings unavailable, using defaults")
		settings = model.DefaultSettings(req.UserID)
	}

	var task *model.Task
	if req.TaskID != nil {
		t, err := m.tasks.GetTask(ctx, *req.TaskID)
		if err != nil {
			zlog.Logger.Warn().Err(err).
				Str("task_id", req.TaskID.String()).
				Msg("task unavailable, scoring without it")
		} else {
			task = &t
		}
	}

	ec := m.engagement.Context(ctx, req.UserID, now)

	localNow := now.In(settings.Location())
	nc := model.NotificationContext{
		Type:       req.Type,
		Objective:  req.Objective,
		User:       &user,
		Task:       task,
		Settings:   settings,
		Engagement: &ec,
		Now:        localNow,
	}

	prio := m.calculator.Calculate(nc)
	prio = m.calculator.AdjustForEngagement(prio, ec.Engagement)

	pending, err := m.notifications.ListPendingByUser(ctx, req.UserID)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("pending lookup failed, skipping queue-pressure dampening")
	} else {
		prio = m.calculator.DampenForQueuePressure(pending, model.Notification{
			UserID:   req.UserID,
			Type:     req.Type,
			Priority: prio,
		})
	}

	scheduledAt, err := m.schedule(settings, req.Type, now, req.Delay)
	if err != nil {
		return nil, fmt.Errorf("schedule delivery: %w", err)
	}

	if !m.limiter.CanSendWith(ctx, settings, now) {
		zlog.Logger.Info().
			Str("user_id", req.UserID.String()).
			Msg("daily notification cap reached, skipping")
		return nil, nil
	}

	if m.duplicates.IsDuplicate(ctx, req.UserID, req.TaskID, req.Type, now) {
		zlog.Logger.Info().
			Str("user_id", req.UserID.String()).
			Str("type", string(req.Type)).
			Msg("duplicate notification suppressed")
		return nil, nil
	}

	content, err := m.generator.Generate(ctx, nc)
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("type", string(req.Type)).
			Msg("content generation failed, using template fallback")
		content = genai.Fallback(nc)
	}

	n := model.Notification{
		UserID:      req.UserID,
		TaskID:      req.TaskID,
		Type:        req.Type,
		Title:       content.Title,
		Message:     content.Message,
		Priority:    prio,
		ScheduledAt: scheduledAt,
		Status:      model.StatusPending,
		Metadata: model.Metadata{
			Tone:            content.Tone,
			Emoji:           content.Emoji,
			GeneratedWithAI: content.GeneratedWithAI,
			ContextSnapshot: nc.Snapshot(),
		},
	}

	id, err := m.notifications.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	n.ID = id
	n.CreatedAt = now

	zlog.Logger.Info().
		Str("notification_id", id.String()).
		Str("user_id", req.UserID.String()).
		Str("type", string(req.Type)).
		Int("priority", prio).
		Time("scheduled_at", scheduledAt).
		Msg("notification enqueued")

	return &n, nil
}

// schedule picks the delivery instant: the requested target when it falls
// inside the user's delivery window, otherwise the next window start. The
// window only ever pushes delivery later, never earlier. An ALERT wanted now
// goes out now when the window is open.
func (m *Manager) schedule(settings model.Settings, typ model.Type, now time.Time, delay time.Duration) (time.Time, error) {
	if delay < 0 {
		delay = 0
	}

	w := timewindow.Window{Start: settings.QuietHoursStart, End: settings.QuietHoursEnd}
	if err := w.Validate(); err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", settings.UserID.String()).
			Msg("invalid delivery window in settings, using defaults")
		defaults := model.DefaultSettings(settings.UserID)
		w = timewindow.Window{Start: defaults.QuietHoursStart, End: defaults.QuietHoursEnd}
	}

	target := now.Add(delay).In(settings.Location())

	if typ == model.TypeAlert && delay == 0 {
		inside, err := w.Contains(target)
		if err != nil {
			return time.Time{}, err
		}
		if inside {
			return target, nil
		}
	}

	return w.ClampToWindow(target)
}

// ProcessQueue drains one batch of due notifications and returns the ones
// delivered. Overlapping calls are collapsed: when a previous pass is still
// running the call returns immediately with nothing.
func (m *Manager) ProcessQueue(ctx context.Context) ([]model.Notification, error) {
	if !m.busy.CompareAndSwap(false, true) {
		zlog.Logger.Debug().Msg("queue drain already in progress, skipping")
		return nil, nil
	}
	defer m.busy.Store(false)

	now := m.now()
	batch, err := m.notifications.ListPending(ctx, now, m.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}

	var delivered []model.Notification
	for _, n := range batch {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if m.deliver(ctx, n, now) {
			n.Status = model.StatusSent
			n.SentAt = &now
			delivered = append(delivered, n)
		}
	}

	return delivered, nil
}

// deliver sends one due notification. Returns true on successful delivery.
func (m *Manager) deliver(ctx context.Context, n model.Notification, now time.Time) bool {
	settings, err := m.users.GetSettings(ctx, n.UserID)
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("notification_id", n.ID.String()).
			Msg("settings unavailable during delivery, using defaults")
		settings = model.DefaultSettings(n.UserID)
	}

	// The window is re-checked at send time: settings may have changed
	// since enqueue, and quiet hours hold for every type.
	w := timewindow.Window{Start: settings.QuietHoursStart, End: settings.QuietHoursEnd}
	localNow := now.In(settings.Location())
	inside, err := w.Contains(localNow)
	if err == nil && !inside {
		next, nerr := w.NextStart(localNow, false)
		if nerr == nil {
			if rerr := m.notifications.Reschedule(ctx, n.ID, next, n.Metadata); rerr != nil {
				zlog.Logger.Error().Err(rerr).
					Str("notification_id", n.ID.String()).
					Msg("failed to reschedule notification")
			} else {
				zlog.Logger.Info().
					Str("notification_id", n.ID.String()).
					Time("scheduled_at", next).
					Msg("outside delivery window, rescheduled")
			}
			return false
		}
	}

	user, err := m.users.GetUser(ctx, n.UserID)
	if err != nil {
		m.recordFailure(ctx, n, fmt.Errorf("resolve user: %w", err))
		return false
	}

	transport, ok := m.transports[settings.Channel]
	if !ok {
		m.recordFailure(ctx, n, fmt.Errorf("no transport for channel %q", settings.Channel))
		return false
	}

	result, err := transport.Send(ctx, n, user, settings)
	if err != nil {
		m.recordFailure(ctx, n, err)
		return false
	}

	meta := n.Metadata
	meta.DeliveryResult = result
	meta.LastError = ""
	if err := m.notifications.MarkSent(ctx, n.ID, now, meta); err != nil {
		zlog.Logger.Error().Err(err).
			Str("notification_id", n.ID.String()).
			Msg("failed to mark notification sent")
		return false
	}

	zlog.Logger.Info().
		Str("notification_id", n.ID.String()).
		Str("user_id", n.UserID.String()).
		Str("channel", settings.Channel).
		Msg("notification delivered")
	return true
}

// recordFailure bumps the retry counter; the notification stays PENDING and
// is retried on a later pass until the counter exceeds the attempt budget.
func (m *Manager) recordFailure(ctx context.Context, n model.Notification, cause error) {
	meta := n.Metadata
	meta.RetryCount++
	meta.LastError = cause.Error()

	if meta.RetryCount > m.maxAttempts {
		if err := m.notifications.MarkFailed(ctx, n.ID, meta); err != nil {
			zlog.Logger.Error().Err(err).
				Str("notification_id", n.ID.String()).
				Msg("failed to mark notification failed")
			return
		}
		zlog.Logger.Error().Err(cause).
			Str("notification_id", n.ID.String()).
			Int("attempts", meta.RetryCount).
			Msg("notification failed permanently")
		return
	}

	if err := m.notifications.UpdateMetadata(ctx, n.ID, meta); err != nil {
		zlog.Logger.Error().Err(err).
			Str("notification_id", n.ID.String()).
			Msg("failed to record delivery failure")
		return
	}
	zlog.Logger.Warn().Err(cause).
		Str("notification_id", n.ID.String()).
		Int("attempts", meta.RetryCount).
		Msg("delivery failed, will retry")
}
