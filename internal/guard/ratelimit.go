package guard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
)

// sentCounter counts notifications sent to a user within a half-open interval.
type sentCounter interface {
	CountSentBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (int, error)
}

// settingsGetter resolves a user's notification settings.
type settingsGetter interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (model.Settings, error)
}

// RateLimiter enforces the per-user daily notification cap. Days are calendar
// days in the user's own timezone, so the counter resets at local midnight.
type RateLimiter struct {
	notifications sentCounter
	settings      settingsGetter
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(notifications sentCounter, settings settingsGetter) *RateLimiter {
	return &RateLimiter{notifications: notifications, settings: settings}
}

// CanSend reports whether the user is still under their daily cap at the
// given instant. A cap of zero or less disables notifications outright.
// Settings or count lookup failures fail open.
func (l *RateLimiter) CanSend(ctx context.Context, userID uuid.UUID, now time.Time) bool {
	settings, err := l.settings.GetSettings(ctx, userID)
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", userID.String()).
			Msg("settings lookup failed, allowing notification")
		return true
	}

	return l.allow(ctx, settings, now)
}

// CanSendWith is CanSend with settings the caller already holds.
func (l *RateLimiter) CanSendWith(ctx context.Context, settings model.Settings, now time.Time) bool {
	return l.allow(ctx, settings, now)
}

func (l *RateLimiter) allow(ctx context.Context, settings model.Settings, now time.Time) bool {
	if settings.MaxPerDay <= 0 {
		return false
	}

	local := now.In(settings.Location())
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	sent, err := l.notifications.CountSentBetween(ctx, settings.UserID, dayStart, dayEnd)
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", settings.UserID.String()).
			Msg("sent count failed, allowing notification")
		return true
	}

	return sent < settings.MaxPerDay
}
