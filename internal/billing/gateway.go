// Package billing defines the metered-billing gateway contract and the plan
// registry for the KidsCan capacity tiers. The gateway is an injected
// capability set so the plan-transition coordinator and the recurring task
// generator can be tested with fakes.
package billing

import (
	"context"

	"kidscan/internal/types"
)

// Gateway abstracts the external metered-billing provider. All methods are
// network bound and fallible; callers must never hold a database
// transaction open across a Gateway call. Soft failures are logged and
// swallowed per operation, with reconciliation handled out of process.
type Gateway interface {
	// GetPlanPrice resolves the live per-task price for a capacity tier
	// from the provider's price catalog.
	GetPlanPrice(ctx context.Context, plan types.PlanType) (types.PlanPrice, error)

	// SyncSubscriptionPlan switches the subscription's metered price to the
	// given plan, prorating immediately.
	SyncSubscriptionPlan(ctx context.Context, sub types.SubscriptionRef, plan types.PlanType) error

	// ReportUsage emits one metered usage event for a completed task.
	// The idempotency key makes provider-side retries safe.
	ReportUsage(ctx context.Context, customerRef, idempotencyKey string, quantity int64) error

	// HasValidPaymentMethod reports whether the payer has a chargeable
	// payment method on file.
	HasValidPaymentMethod(ctx context.Context, customerRef string) (bool, error)

	// CreateUsageSubscription creates a metered subscription for the
	// customer on the given plan and returns its reference.
	CreateUsageSubscription(ctx context.Context, customerRef string, plan types.PlanType) (types.SubscriptionRef, error)

	// CancelSubscriptionAtPeriodEnd schedules the subscription for
	// cancellation after its final billing cycle.
	CancelSubscriptionAtPeriodEnd(ctx context.Context, sub types.SubscriptionRef) error
}
