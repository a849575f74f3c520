package model

import (
	"time"

	"github.com/google/uuid"
)

// Task is the external task entity consumed as scoring input. Writes are
// limited to the overdue/deadline-notified flags the sweeps maintain.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Category         string     `json:"category,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Points           int        `json:"points"` // 1-20
	DueAt            *time.Time `json:"due_at,omitempty"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Overdue          bool       `json:"overdue"`
	DeadlineNotified bool       `json:"deadline_notified"`
	CreatedAt        time.Time  `json:"created_at"`
}

// HoursUntilDeadline returns the signed hour distance from now to the task
// deadline; ok is false when the task has no deadline.
func (t Task) HoursUntilDeadline(now time.Time) (hours float64, ok bool) {
	if t.DueAt == nil {
		return 0, false
	}
	return t.DueAt.Sub(now).Hours(), true
}

// TaskEvent is a task lifecycle event that can fan out into notifications.
type TaskEvent string

const (
	TaskCreated             TaskEvent = "TASK_CREATED"
	TaskDeadlineApproaching TaskEvent = "TASK_DEADLINE_APPROACHING"
	TaskOverdue             TaskEvent = "TASK_OVERDUE"
	TaskCompleted           TaskEvent = "TASK_COMPLETED"
)
