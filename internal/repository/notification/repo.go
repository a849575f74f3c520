// Package notification provides methods to interact with the notifications
// and notification_feedback tables.
package notification

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
	ErrNotificationNotFound = errors.New("notification not found")
)

// Repository provides access to notification rows.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `
	id, user_id, task_id, type, title, message, priority,
	scheduled_at, status, metadata, sent_at, read_at, created_at, updated_at
`

func scanNotification(row interface{ Scan(...interface{}) error }) (model.Notification, error) {
	var (
		n      model.Notification
		taskID uuid.NullUUID
		sentAt sql.NullTime
		readAt sql.NullTime
	)

	err := row.Scan(
		&n.ID, &n.UserID, &taskID, &n.Type, &n.Title, &n.Message, &n.Priority,
		&n.ScheduledAt, &n.Status, &n.Metadata, &sentAt, &readAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	if taskID.Valid {
		id := taskID.UUID
		n.TaskID = &id
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return n, nil
}

// Create inserts a new notification and returns its ID.
func (r *Repository) Create(ctx context.Context, n model.Notification) (uuid.UUID, error) {
	query := `
		INSERT INTO notifications (
		    user_id, task_id, type, title, message, priority, scheduled_at, status, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id;
    `

	var taskID uuid.NullUUID
	if n.TaskID != nil {
		taskID = uuid.NullUUID{UUID: *n.TaskID, Valid: true}
	}

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		n.UserID, taskID, n.Type, n.Title, n.Message, n.Priority, n.ScheduledAt, n.Status, n.Metadata,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return id, nil
}

// GetByID retrieves a single notification.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE id = $1;
    `

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}
		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// GetStatusByID retrieves only the status of a notification.
func (r *Repository) GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	query := `
		SELECT status
		FROM notifications
		WHERE id = $1;
    `

	var status model.Status
	err := r.db.QueryRowContext(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotificationNotFound
		}
		return "", fmt.Errorf("failed to get notification status: %w", err)
	}

	return status, nil
}

// ListPending retrieves up to limit PENDING notifications due at or before
// now, most urgent first, ties broken by earliest schedule.
func (r *Repository) ListPending(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $3;
    `

	rows, err := r.db.QueryContext(ctx, query, model.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// ListPendingByUser retrieves every PENDING notification for a user,
// regardless of schedule. Used for queue-pressure dampening.
func (r *Repository) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND user_id = $2;
    `

	rows, err := r.db.QueryContext(ctx, query, model.StatusPending, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications for user: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// Filter narrows ListByUser results.
type Filter struct {
	Status model.Status
	Type   model.Type
	Limit  int
}

// ListByUser retrieves a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, f Filter) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR type = $3)
		ORDER BY created_at DESC
		LIMIT $4;
    `

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, query, userID, string(f.Status), string(f.Type), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// ListRecentByUserAndType retrieves a user's notifications of one type
// created at or after since, newest first.
func (r *Repository) ListRecentByUserAndType(ctx context.Context, userID uuid.UUID, typ model.Type, since time.Time) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND type = $2 AND created_at >= $3
		ORDER BY created_at DESC;
    `

	rows, err := r.db.QueryContext(ctx, query, userID, typ, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent notifications: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// CountSentBetween counts notifications sent to the user within [from, to).
func (r *Repository) CountSentBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE user_id = $1 AND status = $2 AND sent_at >= $3 AND sent_at < $4;
    `

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, model.StatusSent, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent notifications: %w", err)
	}

	return count, nil
}

// CountSentSince counts notifications sent to any user at or after the cutoff.
func (r *Repository) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE status = $1 AND sent_at >= $2;
    `

	var count int
	err := r.db.QueryRowContext(ctx, query, model.StatusSent, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent notifications: %w", err)
	}

	return count, nil
}

// EngagementCounts returns how many notifications were delivered to the user
// since the cutoff and how many of those were read. READ implies a previous
// SENT, so delivered counts both.
func (r *Repository) EngagementCounts(ctx context.Context, userID uuid.UUID, since time.Time) (delivered, read int, err error) {
	query := `
		SELECT
		    COUNT(*) FILTER (WHERE status IN ($2, $3, $4)),
		    COUNT(*) FILTER (WHERE status = $3)
		FROM notifications
		WHERE user_id = $1 AND created_at >= $5;
    `

	err = r.db.QueryRowContext(ctx, query,
		userID, model.StatusSent, model.StatusRead, model.StatusDismissed, since,
	).Scan(&delivered, &read)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count engagement: %w", err)
	}

	return delivered, read, nil
}

// MarkSent transitions a notification to SENT, stamping sent_at once.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, meta model.Metadata) error {
	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, metadata = $3, updated_at = NOW()
		WHERE id = $4 AND sent_at IS NULL;
    `

	return r.exec(ctx, query, model.StatusSent, sentAt, meta, id)
}

// MarkFailed transitions a notification to the terminal FAILED status.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, meta model.Metadata) error {
	query := `
		UPDATE notifications
		SET status = $1, metadata = $2, updated_at = NOW()
		WHERE id = $3;
    `

	return r.exec(ctx, query, model.StatusFailed, meta, id)
}

// Reschedule rewrites a PENDING notification's delivery instant in place.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time, meta model.Metadata) error {
	query := `
		UPDATE notifications
		SET scheduled_at = $1, metadata = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4;
    `

	return r.exec(ctx, query, at, meta, id, model.StatusPending)
}

// UpdateMetadata rewrites only the metadata column (retry bookkeeping).
func (r *Repository) UpdateMetadata(ctx context.Context, id uuid.UUID, meta model.Metadata) error {
	query := `
		UPDATE notifications
		SET metadata = $1, updated_at = NOW()
		WHERE id = $2;
    `

	return r.exec(ctx, query, meta, id)
}

// MarkRead stamps read_at exactly once and transitions SENT -> READ.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = $1, read_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND read_at IS NULL;
    `

	return r.exec(ctx, query, model.StatusRead, readAt, id, model.StatusSent)
}

// UpdateStatus rewrites only the status column.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id = $2;
    `

	return r.exec(ctx, query, status, id)
}

// DeleteOlderThan removes notifications created before cutoff that sit in one
// of the given statuses. Returns the number of rows removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []model.Status) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE created_at < $1 AND status = ANY($2);
    `

	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	res, err := r.db.ExecContext(ctx, query, cutoff, pq.Array(names))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}

	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// CountByStatus returns the queue depth per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM notifications
		GROUP BY status;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status model.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// CreateFeedback stores a user's reaction to a notification.
func (r *Repository) CreateFeedback(ctx context.Context, fb model.Feedback) (uuid.UUID, error) {
	query := `
		INSERT INTO notification_feedback (notification_id, user_id, kind, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
    `

	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query, fb.NotificationID, fb.UserID, fb.Kind, fb.Comment).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create feedback: %w", err)
	}

	return id, nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

func collect(rows *sql.Rows) ([]model.Notification, error) {
	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}
