package types

import "time"

// Service is a recurring work agreement between a worker and a home,
// billed per completed task. Price and plan are mutated only through the
// plan-transition coordinator; status cancelled is terminal (soft delete).
type Service struct {
	ID          int64
	WorkerID    int64
	HomeID      int64
	Name        string
	Description string
	Frequency   Frequency
	PriceCents  int64
	Status      ServiceStatus
	StartDate   time.Time
	EndDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// HomeOwnerID is denormalized from the owning home on reads that
	// need an authorization decision without a second query.
	HomeOwnerID int64

	PickupDays []PickupDay
}

// PickupDay is a (weekday, can number) pair owned by exactly one service.
// The set of pickup days fully determines the weekly generation pattern;
// replacing the set is all-or-nothing within one transaction.
type PickupDay struct {
	DayOfWeek string
	CanNumber int
}

// Task is one billable occurrence of work. PriceCents is captured at
// creation time and is the billing-of-record amount; it never tracks later
// service price changes. Only a full delete-and-regenerate changes it.
type Task struct {
	ID            int64
	ServiceID     int64
	ScheduledDate time.Time
	Status        TaskStatus
	CompletedAt   *time.Time
	PhotoURL      string
	Notes         string
	PriceCents    int64
	CreatedAt     time.Time
}

// Payment is a pending earnings record for a worker, created when a task
// is completed, at the task's stored price.
type Payment struct {
	ID            int64
	WorkerID      int64
	AmountCents   int64
	Type          string
	Status        PaymentStatus
	Description   string
	ReferenceID   int64
	ReferenceType string
	CreatedAt     time.Time
}

// Home carries the billing linkage the engine needs: who pays, and which
// provider subscription meters this home's completed tasks.
type Home struct {
	ID                 int64
	OwnerID            int64
	SubscriptionID     string
	SubscriptionItemID string
	BillingStatus      BillingStatus
	StripeCustomerID   string
}

// PlanPrice is a resolved per-task price from the billing provider's
// live catalog.
type PlanPrice struct {
	AmountCents int64
	Currency    string
	PriceID     string
}

// SubscriptionRef identifies a provider subscription and the item that
// carries the metered price.
type SubscriptionRef struct {
	SubscriptionID string
	ItemID         string
	CustomerID     string
}

// Profile is a user profile. ReferralCode is empty until minted and
// globally unique once set.
type Profile struct {
	UserID       int64
	DisplayName  string
	Role         UserRole
	ReferralCode string
}

// ServiceStats summarizes a service's task history.
type ServiceStats struct {
	CompletedTasks   int
	PendingTasks     int
	MissedTasks      int
	TotalEarnedCents int64
}
