package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusRead      Status = "READ"
	StatusDismissed Status = "DISMISSED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further automatic transition happens from s.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusDismissed || s == StatusFailed
}

// Type classifies a notification.
type Type string

const (
	TypeAlert       Type = "ALERT"
	TypeReminder    Type = "REMINDER"
	TypeInsight     Type = "INSIGHT"
	TypeMotivation  Type = "MOTIVATION"
	TypeProgress    Type = "PROGRESS"
	TypeAchievement Type = "ACHIEVEMENT"
)

// Types lists every supported notification type.
var Types = []Type{TypeAlert, TypeReminder, TypeInsight, TypeMotivation, TypeProgress, TypeAchievement}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

const (
	MaxTitleLen   = 60  // runes, hard bound after sanitization
	MaxMessageLen = 280 // runes, hard bound after sanitization
)

// ContextSnapshot is the slice of the scoring/generation context persisted
// with a notification for auditing.
type ContextSnapshot struct {
	Type       Type       `json:"type"`
	Objective  string     `json:"objective,omitempty"`
	UserLevel  int        `json:"user_level"`
	Streak     int        `json:"streak"`
	TaskName   string     `json:"task_name,omitempty"`
	TaskPoints int        `json:"task_points,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	TakenAt    time.Time  `json:"taken_at"`
}

// Metadata carries the allowed extension fields of a notification, stored as
// a single jsonb column.
type Metadata struct {
	Tone            string           `json:"tone,omitempty"`
	Emoji           string           `json:"emoji,omitempty"`
	GeneratedWithAI bool             `json:"generated_with_ai"`
	RetryCount      int              `json:"retry_count,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	DeliveryResult  string           `json:"delivery_result,omitempty"`
	ContextSnapshot *ContextSnapshot `json:"context_snapshot,omitempty"`
}

// Value implements driver.Valuer so Metadata can be written as jsonb.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner for the jsonb column.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}

	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata source type %T", src)
	}

	return json.Unmarshal(b, m)
}

// Notification is the central entity of the delivery queue.
type Notification struct {
	ID          uuid.UUID  `json:"id"`                // unique identifier
	UserID      uuid.UUID  `json:"user_id"`           // owner, required
	TaskID      *uuid.UUID `json:"task_id,omitempty"` // optional linked task
	Type        Type       `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    int        `json:"priority"`     // 1-10, 10 most urgent
	ScheduledAt time.Time  `json:"scheduled_at"` // earliest legal delivery instant
	Status      Status     `json:"status"`
	Metadata    Metadata   `json:"metadata"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Feedback records a user's reaction to a delivered notification.
type Feedback struct {
	ID             uuid.UUID `json:"id"`
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
	Kind           string    `json:"kind"` // helpful, irrelevant, annoying
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Sanitize strips control characters, collapses whitespace runs and truncates
// text to limit runes, appending an ellipsis when it had to cut.
func Sanitize(text string, limit int) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			lastSpace = true
			b.WriteRune(' ')
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	runes := []rune(strings.TrimSpace(b.String()))
	if len(runes) <= limit {
		return string(runes)
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
