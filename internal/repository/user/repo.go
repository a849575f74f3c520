// Package user provides methods to interact with the users and
// notification_settings tables.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/orbita/neurolink/internal/model"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// Repository provides access to user and settings rows.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new user repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetUser retrieves a user's profile.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `
		SELECT id, name, email, level, xp, streak, created_at
		FROM users
		WHERE id = $1;
    `

	var u model.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.Level, &u.XP, &u.Streak, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

// GetSettings retrieves a user's notification settings, creating the
// defaults on first access.
func (r *Repository) GetSettings(ctx context.Context, userID uuid.UUID) (model.Settings, error) {
	query := `
		SELECT user_id, personality, quiet_hours_start, quiet_hours_end,
		       max_per_day, enabled_types, timezone, channel, telegram_chat_id, updated_at
		FROM notification_settings
		WHERE user_id = $1;
    `

	var (
		s     model.Settings
		types pq.StringArray
		chat  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.Personality, &s.QuietHoursStart, &s.QuietHoursEnd,
		&s.MaxPerDay, &types, &s.Timezone, &s.Channel, &chat, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			defaults := model.DefaultSettings(userID)
			if err := r.UpdateSettings(ctx, defaults); err != nil {
				return model.Settings{}, err
			}
			return defaults, nil
		}
		return model.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	s.EnabledTypes = make([]model.Type, 0, len(types))
	for _, t := range types {
		s.EnabledTypes = append(s.EnabledTypes, model.Type(t))
	}
	s.TelegramChatID = chat.String

	return s, nil
}

// UpdateSettings upserts a user's notification settings.
func (r *Repository) UpdateSettings(ctx context.Context, s model.Settings) error {
	query := `
		INSERT INTO notification_settings (
		    user_id, personality, quiet_hours_start, quiet_hours_end,
		    max_per_day, enabled_types, timezone, channel, telegram_chat_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
		    personality = EXCLUDED.personality,
		    quiet_hours_start = EXCLUDED.quiet_hours_start,
		    quiet_hours_end = EXCLUDED.quiet_hours_end,
		    max_per_day = EXCLUDED.max_per_day,
		    enabled_types = EXCLUDED.enabled_types,
		    timezone = EXCLUDED.timezone,
		    channel = EXCLUDED.channel,
		    telegram_chat_id = EXCLUDED.telegram_chat_id,
		    updated_at = NOW();
    `

	types := make([]string, 0, len(s.EnabledTypes))
	for _, t := range s.EnabledTypes {
		types = append(types, string(t))
	}

	var chat sql.NullString
	if s.TelegramChatID != "" {
		chat = sql.NullString{String: s.TelegramChatID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		s.UserID, s.Personality, s.QuietHoursStart, s.QuietHoursEnd,
		s.MaxPerDay, pq.Array(types), s.Timezone, s.Channel, chat,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}

	return nil
}

// ListRecentlyActive retrieves users who completed a task since the cutoff.
// Used by the weekly insight job.
func (r *Repository) ListRecentlyActive(ctx context.Context, since time.Time) ([]model.User, error) {
	query := `
		SELECT DISTINCT u.id, u.name, u.email, u.level, u.xp, u.streak, u.created_at
		FROM users u
		JOIN tasks t ON t.user_id = u.id
		WHERE t.completed_at >= $1;
    `

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Level, &u.XP, &u.Streak, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}
