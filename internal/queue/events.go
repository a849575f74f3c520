package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
)

// ScheduleTaskEvent fans a task lifecycle event out into notification
// requests, enqueues them and returns the ones that were actually created.
// Dropped requests (rate limit, duplicates, disabled types) are simply
// omitted; a hard enqueue failure aborts the fan-out.
func (m *Manager) ScheduleTaskEvent(ctx context.Context, event model.TaskEvent, task model.Task) ([]model.Notification, error) {
	requests := m.requestsForEvent(event, task)
	if len(requests) == 0 {
		return nil, fmt.Errorf("unknown task event %q", event)
	}

	var created []model.Notification
	for _, req := range requests {
		n, err := m.Enqueue(ctx, req)
		if err != nil {
			return created, fmt.Errorf("schedule %s for event %s: %w", req.Type, event, err)
		}
		if n != nil {
			created = append(created, *n)
		}
	}

	zlog.Logger.Info().
		Str("event", string(event)).
		Str("task_id", task.ID.String()).
		Int("created", len(created)).
		Msg("task event scheduled")
	return created, nil
}

func (m *Manager) requestsForEvent(event model.TaskEvent, task model.Task) []Request {
	taskID := task.ID
	base := Request{UserID: task.UserID, TaskID: &taskID}

	switch event {
	case model.TaskCreated:
		motivation := base
		motivation.Type = model.TypeMotivation
		motivation.Objective = "encourage the user to start the task they just created"

		requests := []Request{motivation}
		if delay, ok := m.reminderDelay(task); ok {
			reminder := base
			reminder.Type = model.TypeReminder
			reminder.Objective = "remind the user to work on the task before its deadline"
			reminder.Delay = delay
			requests = append(requests, reminder)
		}
		return requests

	case model.TaskDeadlineApproaching:
		alert := base
		alert.Type = model.TypeAlert
		alert.Objective = "warn the user that the task deadline is close"
		return []Request{alert}

	case model.TaskOverdue:
		alert := base
		alert.Type = model.TypeAlert
		alert.Objective = "tell the user the task is overdue and needs attention"
		return []Request{alert}

	case model.TaskCompleted:
		achievement := base
		achievement.Type = model.TypeAchievement
		achievement.Objective = "celebrate the completed task"
		return []Request{achievement}
	}

	return nil
}

// reminderDelay places the reminder ahead of the deadline: tight deadlines
// get a short lead, distant ones a long one. Tasks without a deadline, or
// already past it, get no reminder.
func (m *Manager) reminderDelay(task model.Task) (time.Duration, bool) {
	now := m.now()
	hours, ok := task.HoursUntilDeadline(now)
	if !ok || hours <= 0 {
		return 0, false
	}

	var lead time.Duration
	switch {
	case hours <= 4:
		lead = time.Hour
	case hours <= 24:
		lead = 3 * time.Hour
	case hours <= 72:
		lead = 24 * time.Hour
	default:
		lead = 48 * time.Hour
	}

	delay := task.DueAt.Sub(now) - lead
	if delay < 0 {
		delay = 0
	}
	return delay, true
}
