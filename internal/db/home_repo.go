package db

import (
	"context"

	"kidscan/internal/types"
)

// HomeRepo provides data access for the homes table, which carries the
// billing linkage between a household and its provider subscription.
type HomeRepo struct {
	db DBTX
}

// NewHomeRepo creates a new HomeRepo backed by the given database
// connection (pool or transaction).
func NewHomeRepo(db DBTX) *HomeRepo {
	return &HomeRepo{db: db}
}

// Get loads a home by ID.
func (r *HomeRepo) Get(ctx context.Context, id int64) (*types.Home, error) {
	var h types.Home
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id,
		       COALESCE(subscription_id, ''),
		       COALESCE(subscription_item_id, ''),
		       COALESCE(billing_status, 'incomplete'),
		       COALESCE(stripe_customer_id, '')
		FROM homes WHERE id = $1`,
		id,
	).Scan(
		&h.ID, &h.OwnerID, &h.SubscriptionID, &h.SubscriptionItemID,
		&h.BillingStatus, &h.StripeCustomerID,
	)
	if err != nil {
		return nil, notFound(err, types.ErrCodeNotFoundHome, "home not found")
	}
	return &h, nil
}

// SetSubscription records the provider subscription created for the home.
func (r *HomeRepo) SetSubscription(ctx context.Context, homeID int64, ref types.SubscriptionRef, status types.BillingStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE homes
		SET subscription_id = $1, subscription_item_id = $2,
		    billing_status = $3, updated_at = NOW()
		WHERE id = $4`,
		ref.SubscriptionID, ref.ItemID, status, homeID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set home subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundHome, "home not found", nil)
	}
	return nil
}

// SetBillingStatus updates the home's billing lifecycle state, driven by
// provider webhooks and cancellation flows.
func (r *HomeRepo) SetBillingStatus(ctx context.Context, homeID int64, status types.BillingStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE homes SET billing_status = $1, updated_at = NOW()
		WHERE id = $2`,
		status, homeID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set billing status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundHome, "home not found", nil)
	}
	return nil
}

// SetBillingStatusBySubscription updates the billing state keyed by the
// provider subscription ID, the identifier webhook payloads carry.
func (r *HomeRepo) SetBillingStatusBySubscription(ctx context.Context, subscriptionID string, status types.BillingStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE homes SET billing_status = $1, updated_at = NOW()
		WHERE subscription_id = $2`,
		status, subscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set billing status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundHome, "no home for subscription", nil)
	}
	return nil
}
