package db

import (
	"context"
	"time"

	"kidscan/internal/types"
)

// ServiceRepo provides data access for the services and service_pickup_days
// tables. Pickup days are owned by exactly one service and are always
// replaced as a complete set.
type ServiceRepo struct {
	db DBTX
}

// NewServiceRepo creates a new ServiceRepo backed by the given database
// connection (pool or transaction).
func NewServiceRepo(db DBTX) *ServiceRepo {
	return &ServiceRepo{db: db}
}

const serviceColumns = `
	s.id, s.worker_id, s.home_id, s.name, s.description, s.frequency,
	s.price_cents, s.status, s.start_date, s.end_date, s.created_at,
	s.updated_at, h.owner_id`

// Get loads a service with its pickup days and the owning home's owner ID.
func (r *ServiceRepo) Get(ctx context.Context, id int64) (*types.Service, error) {
	var svc types.Service
	err := r.db.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		JOIN homes h ON h.id = s.home_id
		WHERE s.id = $1`,
		id,
	).Scan(
		&svc.ID, &svc.WorkerID, &svc.HomeID, &svc.Name, &svc.Description,
		&svc.Frequency, &svc.PriceCents, &svc.Status, &svc.StartDate,
		&svc.EndDate, &svc.CreatedAt, &svc.UpdatedAt, &svc.HomeOwnerID,
	)
	if err != nil {
		return nil, notFound(err, types.ErrCodeNotFoundService, "service not found")
	}

	days, err := r.pickupDays(ctx, id)
	if err != nil {
		return nil, err
	}
	svc.PickupDays = days
	return &svc, nil
}

// Create inserts a service and its pickup days, returning the new ID.
// Callers needing atomicity with other writes run this inside a transaction.
func (r *ServiceRepo) Create(ctx context.Context, svc *types.Service) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO services
			(worker_id, home_id, name, description, frequency, price_cents,
			 status, start_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id`,
		svc.WorkerID, svc.HomeID, svc.Name, svc.Description, svc.Frequency,
		svc.PriceCents, svc.Status, svc.StartDate,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert service", err)
	}

	if err := r.insertPickupDays(ctx, id, svc.PickupDays); err != nil {
		return 0, err
	}
	return id, nil
}

// ReplacePickupDays deletes the service's pickup day set and inserts the
// new one.
func (r *ServiceRepo) ReplacePickupDays(ctx context.Context, serviceID int64, days []types.PickupDay) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM service_pickup_days WHERE service_id = $1`,
		serviceID,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear pickup days", err)
	}
	return r.insertPickupDays(ctx, serviceID, days)
}

// UpdatePrice sets the service's per-task price.
func (r *ServiceRepo) UpdatePrice(ctx context.Context, serviceID int64, priceCents int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE services SET price_cents = $1, updated_at = NOW()
		WHERE id = $2`,
		priceCents, serviceID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update service price", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundService, "service not found", nil)
	}
	return nil
}

// MarkCancelled soft-deletes a service. Cancelled is terminal; the row is
// kept for task history.
func (r *ServiceRepo) MarkCancelled(ctx context.Context, serviceID int64, endDate time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE services
		SET status = $1, end_date = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $1`,
		types.ServiceCancelled, endDate, serviceID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel service", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundService, "service not found or already cancelled", nil)
	}
	return nil
}

// ListActiveRecurring returns all active services with a recurring
// frequency, pickup days included. Used by the monthly generation run.
func (r *ServiceRepo) ListActiveRecurring(ctx context.Context) ([]*types.Service, error) {
	return r.list(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		JOIN homes h ON h.id = s.home_id
		WHERE s.status = $1 AND s.frequency <> $2
		ORDER BY s.id`,
		types.ServiceActive, types.FrequencyOneTime,
	)
}

// ListByWorker returns the worker's services, most recent first.
func (r *ServiceRepo) ListByWorker(ctx context.Context, workerID int64) ([]*types.Service, error) {
	return r.list(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		JOIN homes h ON h.id = s.home_id
		WHERE s.worker_id = $1
		ORDER BY s.created_at DESC`,
		workerID,
	)
}

// ListByHomeOwner returns services attached to homes the given user owns.
func (r *ServiceRepo) ListByHomeOwner(ctx context.Context, ownerID int64) ([]*types.Service, error) {
	return r.list(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		JOIN homes h ON h.id = s.home_id
		WHERE h.owner_id = $1
		ORDER BY s.created_at DESC`,
		ownerID,
	)
}

// CountActiveForHome returns how many active services a home has.
func (r *ServiceRepo) CountActiveForHome(ctx context.Context, homeID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM services
		WHERE home_id = $1 AND status = $2`,
		homeID, types.ServiceActive,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active services", err)
	}
	return n, nil
}

// Stats aggregates the service's task history in one pass.
func (r *ServiceRepo) Stats(ctx context.Context, serviceID int64) (types.ServiceStats, error) {
	var stats types.ServiceStats
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(SUM(price_cents) FILTER (WHERE status = $2), 0)
		FROM tasks
		WHERE service_id = $1`,
		serviceID,
		types.TaskCompleted, types.TaskPending, types.TaskMissed,
	).Scan(
		&stats.CompletedTasks, &stats.PendingTasks, &stats.MissedTasks,
		&stats.TotalEarnedCents,
	)
	if err != nil {
		return types.ServiceStats{}, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate service stats", err)
	}
	return stats, nil
}

func (r *ServiceRepo) list(ctx context.Context, query string, args ...any) ([]*types.Service, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query services", err)
	}
	defer rows.Close()

	var services []*types.Service
	for rows.Next() {
		var svc types.Service
		if err := rows.Scan(
			&svc.ID, &svc.WorkerID, &svc.HomeID, &svc.Name, &svc.Description,
			&svc.Frequency, &svc.PriceCents, &svc.Status, &svc.StartDate,
			&svc.EndDate, &svc.CreatedAt, &svc.UpdatedAt, &svc.HomeOwnerID,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan service row", err)
		}
		services = append(services, &svc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating service rows", err)
	}

	for _, svc := range services {
		days, err := r.pickupDays(ctx, svc.ID)
		if err != nil {
			return nil, err
		}
		svc.PickupDays = days
	}
	return services, nil
}

func (r *ServiceRepo) pickupDays(ctx context.Context, serviceID int64) ([]types.PickupDay, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day_of_week, can_number
		FROM service_pickup_days
		WHERE service_id = $1
		ORDER BY id`,
		serviceID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query pickup days", err)
	}
	defer rows.Close()

	var days []types.PickupDay
	for rows.Next() {
		var d types.PickupDay
		if err := rows.Scan(&d.DayOfWeek, &d.CanNumber); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pickup day row", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating pickup day rows", err)
	}
	return days, nil
}

func (r *ServiceRepo) insertPickupDays(ctx context.Context, serviceID int64, days []types.PickupDay) error {
	for _, d := range days {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO service_pickup_days (service_id, day_of_week, can_number)
			VALUES ($1, $2, $3)`,
			serviceID, d.DayOfWeek, d.CanNumber,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert pickup day", err)
		}
	}
	return nil
}
