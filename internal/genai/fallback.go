package genai

import (
	"fmt"

	"github.com/orbita/neurolink/internal/model"
)

// Fallback builds deterministic template content for the context. It always
// succeeds and honors the same length bounds as generated content. The switch
// is exhaustive over the notification types; unknown types take the reminder
// shape so nothing ever goes out untemplated.
func Fallback(nc model.NotificationContext) Content {
	userName := "there"
	level, streak := 1, 0
	if nc.User != nil {
		userName = nc.User.Name
		level = nc.User.Level
		streak = nc.User.Streak
	}

	taskName := "your pending task"
	points := 0
	if nc.Task != nil {
		taskName = fmt.Sprintf("%q", nc.Task.Name)
		points = nc.Task.Points
	}

	var c Content
	switch nc.Type {
	case model.TypeAlert:
		c = Content{
			Title:   fmt.Sprintf("⚠️ Heads up, %s!", userName),
			Message: fmt.Sprintf("Your task %s needs attention before the deadline slips by.", taskName),
			Tone:    "urgent",
			Emoji:   "⚠️",
		}
	case model.TypeReminder:
		c = Content{
			Title:   fmt.Sprintf("📝 Reminder for %s", userName),
			Message: fmt.Sprintf("Don't forget about %s. You've got this!", taskName),
			Tone:    "friendly",
			Emoji:   "📝",
		}
	case model.TypeMotivation:
		c = Content{
			Title:   fmt.Sprintf("🚀 Keep it up, %s!", userName),
			Message: fmt.Sprintf("You're doing great. Level %d with a %d-day streak — keep the momentum going.", level, streak),
			Tone:    "motivational",
			Emoji:   "🚀",
		}
	case model.TypeAchievement:
		c = Content{
			Title:   fmt.Sprintf("🏆 Congrats, %s!", userName),
			Message: fmt.Sprintf("Task completed! That's +%d points for you.", points),
			Tone:    "celebratory",
			Emoji:   "🏆",
		}
	case model.TypeProgress:
		c = Content{
			Title:   fmt.Sprintf("📊 Progress check, %s", userName),
			Message: fmt.Sprintf("You're at level %d. A quick look at your open tasks could keep the streak alive.", level),
			Tone:    "informative",
			Emoji:   "📊",
		}
	case model.TypeInsight:
		c = Content{
			Title:   fmt.Sprintf("💡 Your week, %s", userName),
			Message: fmt.Sprintf("Here's your weekly recap: level %d, %d-day streak. Small consistent steps add up.", level, streak),
			Tone:    "reflective",
			Emoji:   "💡",
		}
	default:
		c = Content{
			Title:   fmt.Sprintf("📝 Reminder for %s", userName),
			Message: fmt.Sprintf("Don't forget about %s.", taskName),
			Tone:    "friendly",
			Emoji:   "📝",
		}
	}

	c.Title = model.Sanitize(c.Title, model.MaxTitleLen)
	c.Message = model.Sanitize(c.Message, model.MaxMessageLen)
	c.GeneratedWithAI = false
	return c
}
