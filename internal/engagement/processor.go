// Package engagement derives a user's behavioral context from task and
// notification history. The result is advisory: it nudges priority and tone
// but never blocks a notification, so every failure path degrades to a
// neutral context instead of an error.
package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
)

const (
	// activityWindow is the trailing span of task history considered.
	activityWindow = 30 * 24 * time.Hour

	// cacheFreshness is how long a computed context stays trustworthy.
	cacheFreshness = 10 * time.Minute

	// neutralEngagement is the score assumed when history is missing.
	neutralEngagement = 0.5
)

type taskActivity interface {
	ActivitySince(ctx context.Context, userID uuid.UUID, since time.Time) (model.ActivityMetrics, error)
}

type notificationHistory interface {
	EngagementCounts(ctx context.Context, userID uuid.UUID, since time.Time) (delivered, read int, err error)
}

// Processor computes and caches per-user engagement contexts.
type Processor struct {
	tasks         taskActivity
	notifications notificationHistory
	cache         *redis.Client
	strategy      retry.Strategy
}

// NewProcessor creates an engagement processor. cache may be nil; the
// processor then recomputes on every call.
func NewProcessor(tasks taskActivity, notifications notificationHistory, cache *redis.Client, strategy retry.Strategy) *Processor {
	return &Processor{
		tasks:         tasks,
		notifications: notifications,
		cache:         cache,
		strategy:      strategy,
	}
}

// Context returns the user's engagement context, from cache when fresh.
// It never returns an error: when history is unavailable the result is a
// neutral context that leaves scoring unchanged.
func (p *Processor) Context(ctx context.Context, userID uuid.UUID, now time.Time) model.EngagementContext {
	if cached, ok := p.fromCache(ctx, userID, now); ok {
		return cached
	}

	ec := p.compute(ctx, userID, now)
	p.toCache(ctx, userID, ec)
	return ec
}

func (p *Processor) compute(ctx context.Context, userID uuid.UUID, now time.Time) model.EngagementContext {
	ec := model.EngagementContext{
		UserID:     userID,
		Engagement: neutralEngagement,
		Segment:    "new",
		ComputedAt: now,
	}

	activity, err := p.tasks.ActivitySince(ctx, userID, now.Add(-activityWindow))
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", userID.String()).
			Msg("task activity unavailable, using neutral engagement")
		return ec
	}
	ec.Activity = activity

	delivered, read, err := p.notifications.EngagementCounts(ctx, userID, now.Add(-activityWindow))
	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("user_id", userID.String()).
			Msg("notification history unavailable, using neutral engagement")
	} else if delivered > 0 {
		ec.Engagement = float64(read) / float64(delivered)
	}

	ec.Segment = segment(activity, now)
	return ec
}

// segment buckets the user by recent activity volume and recency.
func segment(a model.ActivityMetrics, now time.Time) string {
	switch {
	case a.TotalTasks30d == 0:
		return "new"
	case a.LastActivity != nil && now.Sub(*a.LastActivity) > 14*24*time.Hour:
		return "dormant"
	case a.TotalTasks30d >= 15 && a.CompletionRate >= 0.6:
		return "power"
	default:
		return "steady"
	}
}

func cacheKey(userID uuid.UUID) string {
	return "engagement:" + userID.String()
}

func (p *Processor) fromCache(ctx context.Context, userID uuid.UUID, now time.Time) (model.EngagementContext, bool) {
	if p.cache == nil {
		return model.EngagementContext{}, false
	}

	raw, err := p.cache.GetWithRetry(ctx, p.strategy, cacheKey(userID))
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			zlog.Logger.Warn().Err(err).Msg("engagement cache read failed")
		}
		return model.EngagementContext{}, false
	}

	var ec model.EngagementContext
	if err := json.Unmarshal([]byte(raw), &ec); err != nil {
		return model.EngagementContext{}, false
	}
	if now.Sub(ec.ComputedAt) > cacheFreshness {
		return model.EngagementContext{}, false
	}

	return ec, true
}

func (p *Processor) toCache(ctx context.Context, userID uuid.UUID, ec model.EngagementContext) {
	if p.cache == nil {
		return
	}

	raw, err := json.Marshal(ec)
	if err != nil {
		return
	}
	if err := p.cache.SetWithRetry(ctx, p.strategy, cacheKey(userID), string(raw)); err != nil {
		zlog.Logger.Warn().Err(err).Msg("engagement cache write failed")
	}
}
