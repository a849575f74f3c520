// Package guard holds the pre-enqueue admission checks: duplicate
// suppression and daily rate limiting. Both fail open — a broken check
// must never silence notifications.
package guard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
)

// DefaultCooldown is the window within which a repeat notification for the
// same user, task and type is considered a duplicate.
const DefaultCooldown = 2 * time.Hour

// recentLister lists a user's notifications of one type created since a cutoff.
type recentLister interface {
	ListRecentByUserAndType(ctx context.Context, userID uuid.UUID, typ model.Type, since time.Time) ([]model.Notification, error)
}

// DuplicateGuard suppresses near-identical notifications inside a cooldown
// window.
type DuplicateGuard struct {
	notifications recentLister
	cooldown      time.Duration
}

// NewDuplicateGuard creates a duplicate guard. A non-positive cooldown falls
// back to DefaultCooldown.
func NewDuplicateGuard(notifications recentLister, cooldown time.Duration) *DuplicateGuard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &DuplicateGuard{notifications: notifications, cooldown: cooldown}
}

// IsDuplicate reports whether a notification of this type already targets the
// same user and task within the cooldown window. Notifications without a task
// are never duplicates of each other. On lookup failure the check fails open.
func (g *DuplicateGuard) IsDuplicate(ctx context.Context, userID uuid.UUID, taskID *uuid.UUID, typ model.Type, now time.Time) bool {
	if taskID == nil {
		return false
	}

	recent, err := g.notifications.ListRecentByUserAndType(ctx, userID, typ, now.Add(-g.cooldown))
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", userID.String()).
			Str("type", string(typ)).
			Msg("duplicate check failed, allowing notification")
		return false
	}

	for _, n := range recent {
		if n.TaskID != nil && *n.TaskID == *taskID {
			return true
		}
	}

	return false
}
