// Package task provides read access to the tasks table.
package task

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
	ErrTaskNotFound = errors.New("task not found")
)

// Repository provides access to task rows.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new task repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

const taskColumns = `
	t.id, t.user_id, t.name, t.description, t.category, t.points,
	t.due_at, t.completed, t.completed_at, t.overdue, t.deadline_notified, t.created_at
`

func scanTask(row interface{ Scan(...interface{}) error }) (model.Task, error) {
	var (
		t           model.Task
		description sql.NullString
		category    sql.NullString
		dueAt       sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &description, &category, &t.Points,
		&dueAt, &t.Completed, &completedAt, &t.Overdue, &t.DeadlineNotified, &t.CreatedAt,
	)
	if err != nil {
		return model.Task{}, err
	}

	t.Description = description.String
	t.Category = category.String
	if dueAt.Valid {
		d := dueAt.Time
		t.DueAt = &d
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	return t, nil
}

// GetTask retrieves a task with its tags.
func (r *Repository) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	query := `
		SELECT ` + taskColumns + `, COALESCE(array_agg(tt.tag) FILTER (WHERE tt.tag IS NOT NULL), '{}')
		FROM tasks t
		LEFT JOIN task_tags tt ON tt.task_id = t.id
		WHERE t.id = $1
		GROUP BY t.id;
    `

	var (
		t           model.Task
		description sql.NullString
		category    sql.NullString
		dueAt       sql.NullTime
		completedAt sql.NullTime
		tags        pq.StringArray
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.Name, &description, &category, &t.Points,
		&dueAt, &t.Completed, &completedAt, &t.Overdue, &t.DeadlineNotified, &t.CreatedAt,
		&tags,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, ErrTaskNotFound
		}
		return model.Task{}, fmt.Errorf("failed to get task: %w", err)
	}

	t.Description = description.String
	t.Category = category.String
	if dueAt.Valid {
		d := dueAt.Time
		t.DueAt = &d
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	t.Tags = []string(tags)

	return t, nil
}

// ListDueWithin retrieves incomplete, not-yet-notified tasks whose deadline
// falls within [now, now+window).
func (r *Repository) ListDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE NOT t.completed
		  AND NOT t.deadline_notified
		  AND t.due_at >= $1
		  AND t.due_at < $2
		ORDER BY t.due_at ASC;
    `

	rows, err := r.db.QueryContext(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// ListOverdueIncomplete retrieves incomplete tasks whose deadline has passed
// and that have not yet been flagged overdue.
func (r *Repository) ListOverdueIncomplete(ctx context.Context, now time.Time) ([]model.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE NOT t.completed
		  AND NOT t.overdue
		  AND t.due_at < $1
		ORDER BY t.due_at ASC;
    `

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// MarkDeadlineNotified flags a task so the deadline sweep sends at most one
// warning per task.
func (r *Repository) MarkDeadlineNotified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET deadline_notified = TRUE
		WHERE id = $1;
    `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark deadline notified: %w", err)
	}

	return nil
}

// MarkOverdue flags a task as overdue.
func (r *Repository) MarkOverdue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET overdue = TRUE
		WHERE id = $1;
    `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark task overdue: %w", err)
	}

	return nil
}

// ActivitySince aggregates a user's task activity since the cutoff. Used by
// the engagement processor.
func (r *Repository) ActivitySince(ctx context.Context, userID uuid.UUID, since time.Time) (model.ActivityMetrics, error) {
	query := `
		SELECT
		    COUNT(*) FILTER (WHERE created_at >= $2),
		    COUNT(*) FILTER (WHERE completed_at >= $2),
		    COUNT(*) FILTER (WHERE overdue AND NOT completed),
		    COALESCE(AVG(points) FILTER (WHERE created_at >= $2), 0),
		    MAX(GREATEST(created_at, COALESCE(completed_at, created_at)))
		FROM tasks
		WHERE user_id = $1;
    `

	var (
		m    model.ActivityMetrics
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID, since).Scan(
		&m.TotalTasks30d, &m.Completed30d, &m.Overdue30d, &m.AvgPointsPerTask, &last,
	)
	if err != nil {
		return model.ActivityMetrics{}, fmt.Errorf("failed to aggregate task activity: %w", err)
	}

	if m.TotalTasks30d > 0 {
		m.CompletionRate = float64(m.Completed30d) / float64(m.TotalTasks30d)
	}
	if last.Valid {
		t := last.Time
		m.LastActivity = &t
	}

	return m, nil
}

func collect(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}
