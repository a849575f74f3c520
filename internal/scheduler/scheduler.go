// Package scheduler runs the periodic jobs: queue drains, deadline and
// overdue sweeps, retention cleanup and weekly insights.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/queue"
)

// Default cron specs, interpreted in the scheduler's location.
const (
	DefaultDrainSpec    = "*/2 * * * *" // every two minutes
	DefaultDeadlineSpec = "0 * * * *"   // hourly
	DefaultOverdueSpec  = "0 8 * * *"   // daily at 08:00
	DefaultCleanupSpec  = "0 2 * * 0"   // Sunday 02:00
	DefaultInsightSpec  = "0 10 * * 0"  // Sunday 10:00

	// DefaultRetentionDays is how long terminal notifications are kept.
	DefaultRetentionDays = 30

	// deadlineWindow is how far ahead the deadline sweep looks.
	deadlineWindow = 24 * time.Hour

	// insightWindow is the activity span an insight summarizes.
	insightWindow = 7 * 24 * time.Hour
)

type queueManager interface {
	ProcessQueue(ctx context.Context) ([]model.Notification, error)
	ScheduleTaskEvent(ctx context.Context, event model.TaskEvent, task model.Task) ([]model.Notification, error)
	Enqueue(ctx context.Context, req queue.Request) (*model.Notification, error)
}

type taskStore interface {
	ListDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.Task, error)
	ListOverdueIncomplete(ctx context.Context, now time.Time) ([]model.Task, error)
	MarkDeadlineNotified(ctx context.Context, id uuid.UUID) error
	MarkOverdue(ctx context.Context, id uuid.UUID) error
}

type notificationStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []model.Status) (int64, error)
}

type userStore interface {
	ListRecentlyActive(ctx context.Context, since time.Time) ([]model.User, error)
}

// Options carries the cron specs; empty fields take the defaults above.
type Options struct {
	Location      *time.Location
	DrainSpec     string
	DeadlineSpec  string
	OverdueSpec   string
	CleanupSpec   string
	InsightSpec   string
	RetentionDays int
}

func (o *Options) fill() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.DrainSpec == "" {
		o.DrainSpec = DefaultDrainSpec
	}
	if o.DeadlineSpec == "" {
		o.DeadlineSpec = DefaultDeadlineSpec
	}
	if o.OverdueSpec == "" {
		o.OverdueSpec = DefaultOverdueSpec
	}
	if o.CleanupSpec == "" {
		o.CleanupSpec = DefaultCleanupSpec
	}
	if o.InsightSpec == "" {
		o.InsightSpec = DefaultInsightSpec
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = DefaultRetentionDays
	}
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron          *cron.Cron
	queue         queueManager
	tasks         taskStore
	notifications notificationStore
	users         userStore
	retentionDays int
	now           func() time.Time
}

// New creates a scheduler and registers all jobs.
func New(q queueManager, tasks taskStore, notifications notificationStore, users userStore, opts Options) (*Scheduler, error) {
	opts.fill()

	s := &Scheduler{
		cron:          cron.New(cron.WithLocation(opts.Location)),
		queue:         q,
		tasks:         tasks,
		notifications: notifications,
		users:         users,
		retentionDays: opts.RetentionDays,
		now:           time.Now,
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"queue_drain", opts.DrainSpec, s.drainQueue},
		{"deadline_sweep", opts.DeadlineSpec, s.sweepDeadlines},
		{"overdue_sweep", opts.OverdueSpec, s.sweepOverdue},
		{"cleanup", opts.CleanupSpec, s.cleanup},
		{"weekly_insights", opts.InsightSpec, s.sendInsights},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("register job %s: %w", job.name, err)
		}
	}

	return s, nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	zlog.Logger.Info().Msg("scheduler started")
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	zlog.Logger.Info().Msg("scheduler stopped")
}

// wrap gives every job panic isolation and uniform logging. A panicking or
// failing job must never take the cron loop down with it.
func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				zlog.Logger.Error().
					Str("job", name).
					Interface("panic", r).
					Msg("scheduled job panicked")
			}
		}()

		if err := run(context.Background()); err != nil {
			zlog.Logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	}
}

func (s *Scheduler) drainQueue(ctx context.Context) error {
	delivered, err := s.queue.ProcessQueue(ctx)
	if err != nil {
		return err
	}
	if len(delivered) > 0 {
		zlog.Logger.Info().Int("delivered", len(delivered)).Msg("queue drained")
	}
	return nil
}

// sweepDeadlines raises one deadline warning per task approaching its due
// date. Per-task failures are logged and skipped so one bad row cannot stall
// the sweep.
func (s *Scheduler) sweepDeadlines(ctx context.Context) error {
	due, err := s.tasks.ListDueWithin(ctx, s.now(), deadlineWindow)
	if err != nil {
		return fmt.Errorf("list due tasks: %w", err)
	}

	for _, task := range due {
		if _, err := s.queue.ScheduleTaskEvent(ctx, model.TaskDeadlineApproaching, task); err != nil {
			zlog.Logger.Error().Err(err).
				Str("task_id", task.ID.String()).
				Msg("failed to schedule deadline warning")
			continue
		}
		if err := s.tasks.MarkDeadlineNotified(ctx, task.ID); err != nil {
			zlog.Logger.Error().Err(err).
				Str("task_id", task.ID.String()).
				Msg("failed to mark deadline notified")
		}
	}

	return nil
}

func (s *Scheduler) sweepOverdue(ctx context.Context) error {
	overdue, err := s.tasks.ListOverdueIncomplete(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list overdue tasks: %w", err)
	}

	for _, task := range overdue {
		if err := s.tasks.MarkOverdue(ctx, task.ID); err != nil {
			zlog.Logger.Error().Err(err).
				Str("task_id", task.ID.String()).
				Msg("failed to mark task overdue")
			continue
		}
		task.Overdue = true
		if _, err := s.queue.ScheduleTaskEvent(ctx, model.TaskOverdue, task); err != nil {
			zlog.Logger.Error().Err(err).
				Str("task_id", task.ID.String()).
				Msg("failed to schedule overdue alert")
		}
	}

	return nil
}

// cleanup removes old terminal notifications. PENDING and SENT rows are
// never touched.
func (s *Scheduler) cleanup(ctx context.Context) error {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	terminal := []model.Status{model.StatusRead, model.StatusDismissed, model.StatusFailed}

	deleted, err := s.notifications.DeleteOlderThan(ctx, cutoff, terminal)
	if err != nil {
		return fmt.Errorf("delete old notifications: %w", err)
	}
	if deleted > 0 {
		zlog.Logger.Info().Int64("deleted", deleted).Msg("old notifications cleaned up")
	}
	return nil
}

// sendInsights enqueues a weekly summary for every recently active user. The
// queue's own guards decide whether each one actually goes out.
func (s *Scheduler) sendInsights(ctx context.Context) error {
	users, err := s.users.ListRecentlyActive(ctx, s.now().Add(-insightWindow))
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}

	for _, u := range users {
		_, err := s.queue.Enqueue(ctx, queue.Request{
			UserID:    u.ID,
			Type:      model.TypeInsight,
			Objective: "summarize the user's week and suggest one improvement",
		})
		if err != nil {
			zlog.Logger.Error().Err(err).
				Str("user_id", u.ID.String()).
				Msg("failed to enqueue weekly insight")
		}
	}

	return nil
}
