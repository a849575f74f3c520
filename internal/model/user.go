package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the notification recipient. Level, XP and streak are gamification
// inputs owned by the task system; this service only reads them.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Level     int       `json:"level"`
	XP        int       `json:"xp"`
	Streak    int       `json:"streak"` // consecutive days with a completed task
	CreatedAt time.Time `json:"created_at"`
}

// Settings holds a user's notification preferences. One row per user,
// created lazily with defaults on first access.
type Settings struct {
	UserID          uuid.UUID `json:"user_id"`
	Personality     string    `json:"personality"`       // preferred tone: formal, casual, motivational, friendly
	QuietHoursStart string    `json:"quiet_hours_start"` // HH:MM, start of the allowed window
	QuietHoursEnd   string    `json:"quiet_hours_end"`   // HH:MM, end of the allowed window
	MaxPerDay       int       `json:"max_per_day"`       // 0 disables notifications entirely
	EnabledTypes    []Type    `json:"enabled_types"` // stored preference; the pipeline does not filter on it
	Timezone        string    `json:"timezone"` // IANA name
	Channel         string    `json:"channel"`  // delivery channel: email, telegram
	TelegramChatID  string    `json:"telegram_chat_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings row created on first access.
func DefaultSettings(userID uuid.UUID) Settings {
	return Settings{
		UserID:          userID,
		Personality:     "casual",
		QuietHoursStart: "07:00",
		QuietHoursEnd:   "22:00",
		MaxPerDay:       5,
		EnabledTypes:    []Type{TypeAlert, TypeReminder, TypeMotivation},
		Timezone:        "America/Sao_Paulo",
		Channel:         "email",
	}
}

// Location resolves the settings timezone, falling back to UTC when the name
// is empty or unknown.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ActivityMetrics summarizes the user's task activity over the trailing 30 days.
type ActivityMetrics struct {
	TotalTasks30d    int        `json:"total_tasks_30d"`
	Completed30d     int        `json:"completed_tasks_30d"`
	Overdue30d       int        `json:"overdue_tasks_30d"`
	CompletionRate   float64    `json:"completion_rate"`
	AvgPointsPerTask float64    `json:"average_points_per_task"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
}

// EngagementContext is derived behavioral data used as scoring and generation
// input. It is cached, never authoritative, and recomputable at any time.
type EngagementContext struct {
	UserID     uuid.UUID       `json:"user_id"`
	Activity   ActivityMetrics `json:"activity"`
	Engagement float64         `json:"engagement"` // average response rate, 0..1
	Segment    string          `json:"segment"`    // power, steady, new, dormant
	ComputedAt time.Time       `json:"computed_at"`
}

// NotificationContext is the full input to priority scoring and content
// generation for one candidate notification.
type NotificationContext struct {
	Type       Type
	Objective  string
	User       *User
	Task       *Task
	Settings   Settings
	Engagement *EngagementContext
	Now        time.Time
}

// Snapshot reduces the context to the persisted audit record.
func (c NotificationContext) Snapshot() *ContextSnapshot {
	s := &ContextSnapshot{
		Type:      c.Type,
		Objective: c.Objective,
		TakenAt:   c.Now,
	}
	if c.User != nil {
		s.UserLevel = c.User.Level
		s.Streak = c.User.Streak
	}
	if c.Task != nil {
		s.TaskName = c.Task.Name
		s.TaskPoints = c.Task.Points
		s.DueAt = c.Task.DueAt
	}
	return s
}
