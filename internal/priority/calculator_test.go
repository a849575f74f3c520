package priority

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbita/neurolink/internal/model"
)

func contextAt(hour int, typ model.Type) model.NotificationContext {
	userID := uuid.New()
	settings := model.DefaultSettings(userID)
	settings.Timezone = "UTC"

	return model.NotificationContext{
		Type:     typ,
		User:     &model.User{ID: userID, Level: 3, Streak: 5},
		Settings: settings,
		Now:      time.Date(2025, 3, 10, hour, 0, 0, 0, time.UTC),
	}
}

func TestCalculate_AlwaysInRange(t *testing.T) {
	c := NewCalculator(DefaultWeights())

	hours := []int{0, 3, 8, 12, 19, 23}
	levels := []int{1, 5, 50}
	points := []int{1, 10, 20}

	for _, typ := range model.Types {
		for _, hour := range hours {
			for _, level := range levels {
				for _, pts := range points {
					nc := contextAt(hour, typ)
					nc.User.Level = level
					due := nc.Now.Add(3 * time.Hour)
					nc.Task = &model.Task{Points: pts, DueAt: &due}

					p := c.Calculate(nc)
					assert.GreaterOrEqual(t, p, MinPriority)
					assert.LessOrEqual(t, p, MaxPriority)
				}
			}
		}
	}
}

func TestCalculate_AlertOutranksMotivation(t *testing.T) {
	c := NewCalculator(DefaultWeights())

	due := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

	alert := contextAt(12, model.TypeAlert)
	alert.Task = &model.Task{Points: 10, DueAt: &due}

	motivation := contextAt(12, model.TypeMotivation)
	motivation.Task = &model.Task{Points: 10, DueAt: &due}

	assert.Greater(t, c.Calculate(alert), c.Calculate(motivation))
}

func TestCalculate_UrgencyRisesAsDeadlineNears(t *testing.T) {
	c := NewCalculator(DefaultWeights())

	mk := func(until time.Duration) int {
		nc := contextAt(12, model.TypeReminder)
		due := nc.Now.Add(until)
		nc.Task = &model.Task{Points: 10, DueAt: &due}
		return c.Calculate(nc)
	}

	overdue := mk(-time.Hour)
	soon := mk(90 * time.Minute)
	nextWeek := mk(6 * 24 * time.Hour)

	assert.GreaterOrEqual(t, overdue, soon)
	assert.Greater(t, soon, nextWeek)
}

func TestCalculate_NoTaskUsesNeutralUrgency(t *testing.T) {
	c := NewCalculator(DefaultWeights())

	nc := contextAt(12, model.TypeMotivation)
	p := c.Calculate(nc)
	assert.GreaterOrEqual(t, p, MinPriority)
	assert.LessOrEqual(t, p, MaxPriority)
}

func TestAdjustForEngagement(t *testing.T) {
	c := NewCalculator(DefaultWeights())

	assert.Equal(t, 4, c.AdjustForEngagement(5, 0.1))
	assert.Equal(t, 5, c.AdjustForEngagement(5, 0.5))
	assert.Equal(t, 6, c.AdjustForEngagement(5, 0.9))

	// Clamped at the scale edges.
	assert.Equal(t, MinPriority, c.AdjustForEngagement(1, 0.1))
	assert.Equal(t, MaxPriority, c.AdjustForEngagement(10, 0.9))
}

func TestDampenForQueuePressure(t *testing.T) {
	c := NewCalculator(DefaultWeights())
	userID := uuid.New()

	candidate := model.Notification{UserID: userID, Type: model.TypeReminder, Priority: 6}

	t.Run("empty queue leaves priority untouched", func(t *testing.T) {
		assert.Equal(t, 6, c.DampenForQueuePressure(nil, candidate))
	})

	t.Run("crowded user queue costs two", func(t *testing.T) {
		pending := []model.Notification{
			{UserID: userID, Type: model.TypeAlert},
			{UserID: userID, Type: model.TypeMotivation},
			{UserID: userID, Type: model.TypeInsight},
		}
		assert.Equal(t, 4, c.DampenForQueuePressure(pending, candidate))
	})

	t.Run("same-type repeat costs one", func(t *testing.T) {
		pending := []model.Notification{
			{UserID: userID, Type: model.TypeReminder},
			{UserID: userID, Type: model.TypeReminder},
		}
		assert.Equal(t, 5, c.DampenForQueuePressure(pending, candidate))
	})

	t.Run("only the first matching rule applies", func(t *testing.T) {
		pending := []model.Notification{
			{UserID: userID, Type: model.TypeReminder},
			{UserID: userID, Type: model.TypeReminder},
			{UserID: userID, Type: model.TypeReminder},
		}
		// Three user items trigger the first rule; the same-type rule
		// does not stack on top.
		assert.Equal(t, 4, c.DampenForQueuePressure(pending, candidate))
	})

	t.Run("other users' items are ignored", func(t *testing.T) {
		pending := []model.Notification{
			{UserID: uuid.New(), Type: model.TypeReminder},
			{UserID: uuid.New(), Type: model.TypeReminder},
			{UserID: uuid.New(), Type: model.TypeReminder},
		}
		assert.Equal(t, 6, c.DampenForQueuePressure(pending, candidate))
	})

	t.Run("never dampened below the floor", func(t *testing.T) {
		low := candidate
		low.Priority = 2
		pending := []model.Notification{
			{UserID: userID}, {UserID: userID}, {UserID: userID},
		}
		assert.Equal(t, MinPriority, c.DampenForQueuePressure(pending, low))
	})
}

func TestWeightsFromMap(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		w, err := WeightsFromMap(map[string]float64{
			"urgency": 0.4, "user_level": 0.15, "task_points": 0.2,
			"notification_type": 0.15, "time_context": 0.1,
		})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	})

	t.Run("missing factor", func(t *testing.T) {
		_, err := WeightsFromMap(map[string]float64{"urgency": 1.0})
		assert.Error(t, err)
	})

	t.Run("does not sum to one", func(t *testing.T) {
		_, err := WeightsFromMap(map[string]float64{
			"urgency": 0.9, "user_level": 0.9, "task_points": 0.9,
			"notification_type": 0.9, "time_context": 0.9,
		})
		assert.Error(t, err)
	})

	t.Run("negative factor", func(t *testing.T) {
		_, err := WeightsFromMap(map[string]float64{
			"urgency": -0.1, "user_level": 0.4, "task_points": 0.3,
			"notification_type": 0.2, "time_context": 0.2,
		})
		assert.Error(t, err)
	})
}

func TestUpdateWeights_KeepsOldOnFailure(t *testing.T) {
	c := NewCalculator(DefaultWeights())

	err := c.UpdateWeights(map[string]float64{"urgency": 1.0})
	require.Error(t, err)
	assert.Equal(t, DefaultWeights(), c.Stats().Weights)
}
