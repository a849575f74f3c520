// Package dto holds the request bodies accepted by the HTTP API.
package dto

// CreateNotificationRequest asks for one notification to be scheduled.
type CreateNotificationRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	TaskID       string `json:"task_id,omitempty" validate:"omitempty,uuid"`
	Type         string `json:"type" validate:"required"`
	Objective    string `json:"objective,omitempty" validate:"max=500"`
	DelayMinutes int    `json:"delay_minutes,omitempty" validate:"gte=0"`
}

// TaskEventRequest reports a task lifecycle event.
type TaskEventRequest struct {
	Event  string `json:"event" validate:"required,oneof=TASK_CREATED TASK_DEADLINE_APPROACHING TASK_OVERDUE TASK_COMPLETED"`
	TaskID string `json:"task_id" validate:"required,uuid"`
}

// UpdateSettingsRequest replaces a user's notification preferences.
type UpdateSettingsRequest struct {
	Personality     string   `json:"personality" validate:"required,oneof=formal casual motivational friendly"`
	QuietHoursStart string   `json:"quiet_hours_start" validate:"required"`
	QuietHoursEnd   string   `json:"quiet_hours_end" validate:"required"`
	MaxPerDay       int      `json:"max_per_day" validate:"gte=0,lte=50"`
	EnabledTypes    []string `json:"enabled_types" validate:"required"`
	Timezone        string   `json:"timezone" validate:"required"`
	Channel         string   `json:"channel" validate:"required,oneof=email telegram"`
	TelegramChatID  string   `json:"telegram_chat_id,omitempty"`
}

// FeedbackRequest records a user's reaction to a notification.
type FeedbackRequest struct {
	UserID  string `json:"user_id" validate:"required,uuid"`
	Kind    string `json:"kind" validate:"required,oneof=helpful irrelevant annoying"`
	Comment string `json:"comment,omitempty" validate:"max=500"`
}

// MarkReadRequest identifies the acting user.
type MarkReadRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// UpdateWeightsRequest replaces the priority factor weights.
type UpdateWeightsRequest struct {
	Weights map[string]float64 `json:"weights" validate:"required"`
}
