package db

import (
	"context"
	"time"

	"kidscan/internal/types"
)

// TaskRepo provides data access for the tasks table.
//
// Status guards are pushed into the SQL WHERE clauses so that two
// concurrent writers cannot both win a completion or cancellation; the
// loser sees zero rows affected and surfaces a conflict.
type TaskRepo struct {
	db DBTX
}

// NewTaskRepo creates a new TaskRepo backed by the given database
// connection (pool or transaction).
func NewTaskRepo(db DBTX) *TaskRepo {
	return &TaskRepo{db: db}
}

const taskColumns = `
	id, service_id, scheduled_date, status, completed_at, photo_url,
	notes, price_cents, created_at`

// Get loads a task by ID.
func (r *TaskRepo) Get(ctx context.Context, id int64) (*types.Task, error) {
	var t types.Task
	err := r.db.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE id = $1`,
		id,
	).Scan(
		&t.ID, &t.ServiceID, &t.ScheduledDate, &t.Status, &t.CompletedAt,
		&t.PhotoURL, &t.Notes, &t.PriceCents, &t.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, types.ErrCodeNotFoundTask, "task not found")
	}
	return &t, nil
}

// InsertPending creates pending tasks for a service, one per entry, each
// capturing the price supplied at creation time.
func (r *TaskRepo) InsertPending(ctx context.Context, serviceID int64, tasks []types.Task) (int, error) {
	inserted := 0
	for _, t := range tasks {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO tasks
				(service_id, scheduled_date, status, notes, price_cents, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())`,
			serviceID, t.ScheduledDate, types.TaskPending, t.Notes, t.PriceCents,
		); err != nil {
			return inserted, types.NewAppError(types.ErrCodeInternalDB, "failed to insert task", err)
		}
		inserted++
	}
	return inserted, nil
}

// DeletePendingFrom removes the service's pending tasks scheduled on or
// after the given date. Completed, missed, and cancelled tasks are never
// touched.
func (r *TaskRepo) DeletePendingFrom(ctx context.Context, serviceID int64, from time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM tasks
		WHERE service_id = $1 AND status = $2 AND scheduled_date >= $3`,
		serviceID, types.TaskPending, from,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete pending tasks", err)
	}
	return tag.RowsAffected(), nil
}

// DeletePendingWithin removes the service's pending tasks scheduled
// between the two dates, inclusive. Used by plan changes, which regenerate
// exactly this window; pending tasks in later months are left alone.
func (r *TaskRepo) DeletePendingWithin(ctx context.Context, serviceID int64, from, through time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM tasks
		WHERE service_id = $1 AND status = $2
		  AND scheduled_date >= $3 AND scheduled_date <= $4`,
		serviceID, types.TaskPending, from, through,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete pending tasks", err)
	}
	return tag.RowsAffected(), nil
}

// CountPending returns the number of pending tasks for a service.
func (r *TaskRepo) CountPending(ctx context.Context, serviceID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE service_id = $1 AND status = $2`,
		serviceID, types.TaskPending,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count pending tasks", err)
	}
	return n, nil
}

// CountOverduePending returns the number of pending tasks scheduled
// strictly before the given date.
func (r *TaskRepo) CountOverduePending(ctx context.Context, serviceID int64, before time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE service_id = $1 AND status = $2 AND scheduled_date < $3`,
		serviceID, types.TaskPending, before,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count overdue tasks", err)
	}
	return n, nil
}

// MarkCompleted transitions a pending task to completed, recording the
// completion time and evidence. Returns a conflict error if the task is
// not pending, so a double completion can never bill twice.
func (r *TaskRepo) MarkCompleted(ctx context.Context, taskID int64, completedAt time.Time, photoURL, notes string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks
		SET status = $1, completed_at = $2, photo_url = $3,
		    notes = CASE WHEN $4 <> '' THEN $4 ELSE notes END
		WHERE id = $5 AND status = $6`,
		types.TaskCompleted, completedAt, photoURL, notes,
		taskID, types.TaskPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTaskNotPending, "task is not pending", nil)
	}
	return nil
}

// MarkCancelled transitions a pending task to cancelled.
func (r *TaskRepo) MarkCancelled(ctx context.Context, taskID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks SET status = $1
		WHERE id = $2 AND status = $3`,
		types.TaskCancelled, taskID, types.TaskPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTaskNotPending, "task is not pending", nil)
	}
	return nil
}

// LatestScheduledDate returns the most recent scheduled date across all of
// the service's tasks, or nil when the service has no tasks.
func (r *TaskRepo) LatestScheduledDate(ctx context.Context, serviceID int64) (*time.Time, error) {
	var latest *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(scheduled_date) FROM tasks WHERE service_id = $1`,
		serviceID,
	).Scan(&latest)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest task date", err)
	}
	return latest, nil
}

// ListByService returns the service's tasks in schedule order.
func (r *TaskRepo) ListByService(ctx context.Context, serviceID int64) ([]*types.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE service_id = $1
		ORDER BY scheduled_date`,
		serviceID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query tasks", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		var t types.Task
		if err := rows.Scan(
			&t.ID, &t.ServiceID, &t.ScheduledDate, &t.Status, &t.CompletedAt,
			&t.PhotoURL, &t.Notes, &t.PriceCents, &t.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task row", err)
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating task rows", err)
	}
	return tasks, nil
}
