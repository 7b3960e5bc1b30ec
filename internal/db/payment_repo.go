package db

import (
	"context"

	"kidscan/internal/types"
)

// PaymentRepo provides data access for the payments table. A payment row
// is the worker's pending earnings record for one completed task, written
// in the same transaction as the task completion.
type PaymentRepo struct {
	db DBTX
}

// NewPaymentRepo creates a new PaymentRepo backed by the given database
// connection (pool or transaction).
func NewPaymentRepo(db DBTX) *PaymentRepo {
	return &PaymentRepo{db: db}
}

// InsertTaskEarning records a pending earning for a completed task at the
// task's stored price.
func (r *PaymentRepo) InsertTaskEarning(ctx context.Context, workerID, taskID, amountCents int64, description string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments
			(worker_id, amount_cents, type, status, description,
			 reference_id, reference_type, created_at)
		VALUES ($1, $2, 'task_earning', $3, $4, $5, 'task', NOW())
		RETURNING id`,
		workerID, amountCents, types.PaymentPending, description, taskID,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment", err)
	}
	return id, nil
}

// ListByWorker returns the worker's payments, most recent first.
func (r *PaymentRepo) ListByWorker(ctx context.Context, workerID int64) ([]*types.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, worker_id, amount_cents, type, status, description,
		       reference_id, reference_type, created_at
		FROM payments
		WHERE worker_id = $1
		ORDER BY created_at DESC`,
		workerID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query payments", err)
	}
	defer rows.Close()

	var payments []*types.Payment
	for rows.Next() {
		var p types.Payment
		if err := rows.Scan(
			&p.ID, &p.WorkerID, &p.AmountCents, &p.Type, &p.Status,
			&p.Description, &p.ReferenceID, &p.ReferenceType, &p.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment row", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating payment rows", err)
	}
	return payments, nil
}
