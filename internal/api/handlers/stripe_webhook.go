// This file implements the billing provider webhook handler. It is NOT
// behind the identity middleware; it is called directly by the provider.
// Security is provided by verifying the Stripe-Signature header.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kidscan/internal/core"
	"kidscan/internal/external"
	"kidscan/internal/types"
)

// maxWebhookBodySize caps provider webhook payloads (64 KB). They are
// typically small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// Webhook event types this handler reacts to.
const (
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventInvoicePaid         = "invoice.paid"
	eventPaymentFailed       = "invoice.payment_failed"
)

// BillingStateUpdater records provider-driven billing lifecycle changes.
type BillingStateUpdater interface {
	SetBillingStatusBySubscription(ctx context.Context, subscriptionID string, status types.BillingStatus) error
}

// StripeWebhookHandler handles asynchronous billing events from the
// provider.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	homes    BillingStateUpdater
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, homes BillingStateUpdater, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		homes:    homes,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the
// authenticated routes; this one is public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// stripeWebhookEvent is the envelope of a provider event; only the fields
// this handler reads are declared.
type stripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type webhookSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type webhookInvoice struct {
	Subscription string `json:"subscription"`
}

// Handle processes one provider webhook delivery. The signature is checked
// before anything is parsed. Processing failures are logged but still
// acknowledged with 200 so the provider does not retry forever; the local
// state converges on the next event for the same subscription.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing billing webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case eventSubscriptionUpdated:
		var sub webhookSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return err
		}
		return h.homes.SetBillingStatusBySubscription(ctx, sub.ID, billingStatusFromProvider(sub.Status))

	case eventSubscriptionDeleted:
		var sub webhookSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return err
		}
		return h.homes.SetBillingStatusBySubscription(ctx, sub.ID, types.BillingCanceled)

	case eventInvoicePaid:
		var inv webhookInvoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return err
		}
		if inv.Subscription == "" {
			return nil
		}
		return h.homes.SetBillingStatusBySubscription(ctx, inv.Subscription, types.BillingActive)

	case eventPaymentFailed:
		var inv webhookInvoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return err
		}
		if inv.Subscription == "" {
			return nil
		}
		return h.homes.SetBillingStatusBySubscription(ctx, inv.Subscription, types.BillingPastDue)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// billingStatusFromProvider maps a provider subscription status onto the
// local billing lifecycle.
func billingStatusFromProvider(status string) types.BillingStatus {
	switch status {
	case "active", "trialing":
		return types.BillingActive
	case "past_due", "unpaid":
		return types.BillingPastDue
	case "canceled":
		return types.BillingCanceled
	case "incomplete", "incomplete_expired":
		return types.BillingIncomplete
	default:
		return types.BillingIncomplete
	}
}
