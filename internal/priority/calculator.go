// Package priority computes notification priority as a weighted blend of
// five sub-scores: task urgency, user level, task points, notification type
// and time context. Calculation is pure and never fails; malformed input
// degrades to the neutral score.
package priority

import (
	"fmt"
	"math"
	"sync"

	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/timewindow"
)

const (
	// MinPriority and MaxPriority bound every result.
	MinPriority = 1
	MaxPriority = 10

	// neutralScore is the fallback for any sub-score that cannot be computed.
	neutralScore = 5
)

// Weights are the five scoring factors. They must sum to roughly 1.0.
type Weights struct {
	Urgency          float64 `json:"urgency" mapstructure:"urgency"`
	UserLevel        float64 `json:"user_level" mapstructure:"user_level"`
	TaskPoints       float64 `json:"task_points" mapstructure:"task_points"`
	NotificationType float64 `json:"notification_type" mapstructure:"notification_type"`
	TimeContext      float64 `json:"time_context" mapstructure:"time_context"`
}

// DefaultWeights mirror the factor balance the product shipped with.
func DefaultWeights() Weights {
	return Weights{
		Urgency:          0.40,
		UserLevel:        0.15,
		TaskPoints:       0.20,
		NotificationType: 0.15,
		TimeContext:      0.10,
	}
}

// Sum returns the total of the five factors.
func (w Weights) Sum() float64 {
	return w.Urgency + w.UserLevel + w.TaskPoints + w.NotificationType + w.TimeContext
}

var factorNames = []string{"urgency", "user_level", "task_points", "notification_type", "time_context"}

// WeightsFromMap builds Weights from a factor-name map, rejecting the update
// when a required factor is missing, a factor is negative, or the sum strays
// more than 0.1 from 1.0.
func WeightsFromMap(raw map[string]float64) (Weights, error) {
	for _, name := range factorNames {
		v, ok := raw[name]
		if !ok {
			return Weights{}, fmt.Errorf("missing required factor %q", name)
		}
		if v < 0 {
			return Weights{}, fmt.Errorf("factor %q must be non-negative", name)
		}
	}

	w := Weights{
		Urgency:          raw["urgency"],
		UserLevel:        raw["user_level"],
		TaskPoints:       raw["task_points"],
		NotificationType: raw["notification_type"],
		TimeContext:      raw["time_context"],
	}
	if math.Abs(w.Sum()-1.0) > 0.1 {
		return Weights{}, fmt.Errorf("weights must sum to approximately 1.0, got %.3f", w.Sum())
	}
	return w, nil
}

// Stats exposes the current weight configuration.
type Stats struct {
	Weights Weights  `json:"weights"`
	Total   float64  `json:"total_weight"`
	Factors []string `json:"factors"`
}

// Calculator scores notification contexts. Safe for concurrent use; weights
// may be swapped at runtime.
type Calculator struct {
	mu      sync.RWMutex
	weights Weights
}

func NewCalculator(w Weights) *Calculator {
	return &Calculator{weights: w}
}

// Calculate returns a priority in [1,10] for the given context.
func (c *Calculator) Calculate(nc model.NotificationContext) int {
	c.mu.RLock()
	w := c.weights
	c.mu.RUnlock()

	score := urgencyScore(nc)*w.Urgency +
		userLevelScore(nc)*w.UserLevel +
		taskPointsScore(nc)*w.TaskPoints +
		typeScore(nc.Type)*w.NotificationType +
		timeContextScore(nc)*w.TimeContext

	return clamp(int(math.Round(score)))
}

// AdjustForEngagement nudges priority by the user's average response rate:
// below 0.3 costs a point, above 0.7 earns one.
func (c *Calculator) AdjustForEngagement(priority int, avgEngagement float64) int {
	switch {
	case avgEngagement < 0.3:
		return clamp(priority - 1)
	case avgEngagement > 0.7:
		return clamp(priority + 1)
	default:
		return clamp(priority)
	}
}

// DampenForQueuePressure lowers a candidate's priority when the user's queue
// is already crowded. The two checks are alternatives, first match wins:
// three or more pending items for the user costs 2; otherwise two or more
// pending items of the candidate's type costs 1.
func (c *Calculator) DampenForQueuePressure(pending []model.Notification, candidate model.Notification) int {
	userPending := 0
	sameType := 0
	for _, n := range pending {
		if n.UserID != candidate.UserID {
			continue
		}
		userPending++
		if n.Type == candidate.Type {
			sameType++
		}
	}

	p := candidate.Priority
	if userPending >= 3 {
		p -= 2
	} else if sameType >= 2 {
		p--
	}
	if p < MinPriority {
		p = MinPriority
	}
	return p
}

// UpdateWeights swaps the factor weights after validation; on failure the
// previous weights stay in effect.
func (c *Calculator) UpdateWeights(raw map[string]float64) error {
	w, err := WeightsFromMap(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.weights = w
	c.mu.Unlock()
	return nil
}

// Stats returns the current weight configuration.
func (c *Calculator) Stats() Stats {
	c.mu.RLock()
	w := c.weights
	c.mu.RUnlock()
	return Stats{Weights: w, Total: w.Sum(), Factors: factorNames}
}

func clamp(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// urgencyScore derives urgency from the linked task's deadline distance.
// Alerts are maximally urgent regardless of task state.
func urgencyScore(nc model.NotificationContext) float64 {
	if nc.Type == model.TypeAlert {
		return 10
	}
	if nc.Task == nil {
		return neutralScore
	}

	hours, ok := nc.Task.HoursUntilDeadline(nc.Now)
	if !ok {
		return neutralScore
	}

	switch {
	case hours < 0:
		return 10
	case hours < 2:
		return 9
	case hours < 6:
		return 8
	case hours < 24:
		return 7
	case hours < 48:
		return 6
	case hours < 168:
		return 4
	default:
		return 2
	}
}

// userLevelScore slightly favors higher-level users to sustain engagement,
// with a bonus for active streaks.
func userLevelScore(nc model.NotificationContext) float64 {
	if nc.User == nil || nc.User.Level <= 0 {
		return neutralScore
	}

	score := math.Min(10, float64(nc.User.Level)+3)
	if nc.User.Streak > 0 {
		score += math.Min(2, float64(nc.User.Streak)/5)
	}
	return math.Min(10, score)
}

// taskPointsScore maps the 1-20 point range linearly onto [3,10].
func taskPointsScore(nc model.NotificationContext) float64 {
	if nc.Task == nil || nc.Task.Points <= 0 {
		return neutralScore
	}

	score := float64(nc.Task.Points)/20*7 + 3
	return math.Round(math.Max(3, math.Min(10, score)))
}

func typeScore(t model.Type) float64 {
	switch t {
	case model.TypeAlert:
		return 10
	case model.TypeAchievement:
		return 8
	case model.TypeReminder:
		return 7
	case model.TypeMotivation:
		return 5
	case model.TypeProgress:
		return 4
	case model.TypeInsight:
		return 3
	default:
		return neutralScore
	}
}

// timeContextScore rewards delivery inside the user's window, with extra
// weight on the early-morning and early-evening prime bands.
func timeContextScore(nc model.NotificationContext) float64 {
	window := timewindow.Window{Start: nc.Settings.QuietHoursStart, End: nc.Settings.QuietHoursEnd}

	local := nc.Now.In(nc.Settings.Location())
	inside, err := window.Contains(local)
	if err != nil {
		return neutralScore
	}
	if !inside {
		return 2
	}

	hour := local.Hour()
	switch {
	case (hour >= 8 && hour <= 10) || (hour >= 18 && hour <= 20):
		return 8
	case hour >= 9 && hour <= 17:
		return 6
	default:
		return neutralScore
	}
}
