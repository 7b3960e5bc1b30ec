package external

import (
	"context"
	"fmt"
	"log/slog"

	"kidscan/internal/billing"
	"kidscan/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs allow the application to boot in local/test mode without real
// provider credentials. They log all actions and return predictable, safe
// default values.
// ---------------------------------------------------------------------------

// StubGateway implements billing.Gateway by logging calls and returning
// test-safe defaults. Used when config.IsTestMode is true or APP_ENV=local.
type StubGateway struct {
	logger *slog.Logger
}

// NewStubGateway creates a new StubGateway.
func NewStubGateway(logger *slog.Logger) *StubGateway {
	return &StubGateway{logger: logger}
}

var _ billing.Gateway = (*StubGateway)(nil)

func (s *StubGateway) GetPlanPrice(ctx context.Context, plan types.PlanType) (types.PlanPrice, error) {
	s.logger.InfoContext(ctx, "stub: GetPlanPrice called", "plan", plan)
	return types.PlanPrice{
		AmountCents: billing.FallbackPriceCents(plan),
		Currency:    "usd",
		PriceID:     fmt.Sprintf("price_stub_%s", plan),
	}, nil
}

func (s *StubGateway) SyncSubscriptionPlan(ctx context.Context, sub types.SubscriptionRef, plan types.PlanType) error {
	s.logger.InfoContext(ctx, "stub: SyncSubscriptionPlan called",
		"subscription_id", sub.SubscriptionID,
		"plan", plan,
	)
	return nil
}

func (s *StubGateway) ReportUsage(ctx context.Context, customerRef, idempotencyKey string, quantity int64) error {
	s.logger.InfoContext(ctx, "stub: ReportUsage called",
		"customer", customerRef,
		"idempotency_key", idempotencyKey,
		"quantity", quantity,
	)
	return nil
}

func (s *StubGateway) HasValidPaymentMethod(ctx context.Context, customerRef string) (bool, error) {
	s.logger.InfoContext(ctx, "stub: HasValidPaymentMethod called", "customer", customerRef)
	// Stubs always report a card on file so schedule generation proceeds
	// in local development.
	return true, nil
}

func (s *StubGateway) CreateUsageSubscription(ctx context.Context, customerRef string, plan types.PlanType) (types.SubscriptionRef, error) {
	s.logger.InfoContext(ctx, "stub: CreateUsageSubscription called",
		"customer", customerRef,
		"plan", plan,
	)
	return types.SubscriptionRef{
		SubscriptionID: fmt.Sprintf("sub_stub_%s", customerRef),
		ItemID:         fmt.Sprintf("si_stub_%s", customerRef),
		CustomerID:     customerRef,
	}, nil
}

func (s *StubGateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, sub types.SubscriptionRef) error {
	s.logger.InfoContext(ctx, "stub: CancelSubscriptionAtPeriodEnd called",
		"subscription_id", sub.SubscriptionID,
	)
	return nil
}

// StubWebhookVerifier implements WebhookVerifier by accepting every payload.
// Used when config.IsTestMode is true or APP_ENV=local.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: webhook signature accepted", "payload_bytes", len(payload))
	return nil
}
