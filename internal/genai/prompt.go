package genai

import (
	"fmt"
	"strings"
	"time"

	"github.com/orbita/neurolink/internal/model"
)

// BuildPrompt renders the generation instruction for one notification
// context. The reply contract is a single JSON object with title, message,
// tone and emoji.
func BuildPrompt(nc model.NotificationContext) string {
	var b strings.Builder

	userName := "there"
	level, streak := 0, 0
	if nc.User != nil {
		userName = nc.User.Name
		level = nc.User.Level
		streak = nc.User.Streak
	}

	now := nc.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(nc.Settings.Location())

	fmt.Fprintf(&b, "You are a productivity assistant that writes short, personal push notifications.\n\n")
	fmt.Fprintf(&b, "RULES:\n")
	fmt.Fprintf(&b, "1. Write in a %s tone.\n", orDefault(nc.Settings.Personality, "casual"))
	fmt.Fprintf(&b, "2. Address the user by name: %s.\n", userName)
	fmt.Fprintf(&b, "3. Title at most %d characters, message at most %d characters.\n", model.MaxTitleLen, model.MaxMessageLen)
	fmt.Fprintf(&b, "4. Use at most one emoji.\n")
	fmt.Fprintf(&b, "5. Current local time: %s.\n", local.Format("15:04"))
	fmt.Fprintf(&b, "6. Reply with ONLY the JSON object described below.\n\n")

	fmt.Fprintf(&b, "USER:\n- Name: %s\n- Level: %d\n- Streak: %d days\n", userName, level, streak)
	fmt.Fprintf(&b, "- Active window: %s to %s\n\n", nc.Settings.QuietHoursStart, nc.Settings.QuietHoursEnd)

	if nc.Task != nil {
		fmt.Fprintf(&b, "TASK:\n- Name: %s\n", nc.Task.Name)
		if nc.Task.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", nc.Task.Description)
		}
		if nc.Task.Category != "" {
			fmt.Fprintf(&b, "- Category: %s\n", nc.Task.Category)
		}
		if len(nc.Task.Tags) > 0 {
			fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(nc.Task.Tags, ", "))
		}
		fmt.Fprintf(&b, "- Points: %d\n", nc.Task.Points)
		if nc.Task.DueAt != nil {
			fmt.Fprintf(&b, "- Due: %s\n", nc.Task.DueAt.In(nc.Settings.Location()).Format(time.RFC1123))
		}
		status := "pending"
		if nc.Task.Completed {
			status = "completed"
		}
		fmt.Fprintf(&b, "- Status: %s\n\n", status)
	}

	fmt.Fprintf(&b, "NOTIFICATION TYPE: %s\n", nc.Type)
	fmt.Fprintf(&b, "OBJECTIVE: %s\n\n", orDefault(nc.Objective, "inform the user"))

	fmt.Fprintf(&b, "REPLY FORMAT (JSON):\n")
	fmt.Fprintf(&b, `{"title": "...", "message": "...", "tone": "...", "emoji": "..."}`)

	return b.String()
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
