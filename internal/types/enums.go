package types

// Frequency defines how often a service produces tasks.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyOneTime  Frequency = "onetime"
)

// Recurring reports whether the frequency participates in recurring
// task generation. One-time services never do.
func (f Frequency) Recurring() bool {
	return f == FrequencyWeekly || f == FrequencyBiweekly || f == FrequencyMonthly
}

// ServiceStatus represents the lifecycle state of a service agreement.
// Cancelled is terminal; services are soft-deleted, never removed while
// they own tasks.
type ServiceStatus string

const (
	ServiceActive    ServiceStatus = "active"
	ServicePaused    ServiceStatus = "paused"
	ServiceCancelled ServiceStatus = "cancelled"
)

// TaskStatus represents the lifecycle state of a single billable task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskMissed    TaskStatus = "missed"
	TaskCancelled TaskStatus = "cancelled"
)

// PlanType identifies the capacity tier of a service's billing plan.
type PlanType string

const (
	PlanSingleCan PlanType = "single_can"
	PlanDoubleCan PlanType = "double_can"
	PlanTripleCan PlanType = "triple_can"
)

// Valid reports whether the plan type is one of the known capacity tiers.
func (p PlanType) Valid() bool {
	switch p {
	case PlanSingleCan, PlanDoubleCan, PlanTripleCan:
		return true
	}
	return false
}

// UserRole defines the authorization role of the acting party.
type UserRole string

const (
	// RoleWorker is the teen performing the service work.
	RoleWorker UserRole = "worker"
	// RolePayer is the homeowner paying for the service.
	RolePayer UserRole = "payer"
	// RoleOperator is a platform operator with unconditional access.
	RoleOperator UserRole = "operator"
)

// Valid reports whether the role is one of the closed set.
func (r UserRole) Valid() bool {
	switch r {
	case RoleWorker, RolePayer, RoleOperator:
		return true
	}
	return false
}

// PaymentStatus represents the state of a worker payment record.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// BillingStatus mirrors the subscription state reported by the billing
// provider, persisted on the home for quick payment-precondition checks.
type BillingStatus string

const (
	BillingActive     BillingStatus = "active"
	BillingIncomplete BillingStatus = "incomplete"
	BillingPastDue    BillingStatus = "past_due"
	BillingCancelling BillingStatus = "cancelling"
	BillingCanceled   BillingStatus = "canceled"
)
