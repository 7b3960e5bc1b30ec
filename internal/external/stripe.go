package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"kidscan/internal/billing"
	"kidscan/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// meterEventName is the usage meter event for one completed can.
const meterEventName = "can_completed"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements billing.Gateway by making direct HTTP calls to
// the Stripe REST API through BaseClient, so every call inherits the
// platform's resilience behavior (circuit breaker, retries, error mapping)
// and is easy to test with httptest.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

var _ billing.Gateway = (*StripeClient)(nil)

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// be 20 seconds; Stripe calls are never made inside a database transaction,
// so a slow provider degrades only the calling request.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"KidsCan/1.0",
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful in tests that need to control retry/breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// billing.Gateway Implementation
// ---------------------------------------------------------------------------

// GetPlanPrice resolves the live per-task price for a capacity tier using
// the plan's price lookup key.
func (s *StripeClient) GetPlanPrice(ctx context.Context, plan types.PlanType) (types.PlanPrice, error) {
	params := url.Values{}
	params.Set("lookup_keys[]", billing.LookupKey(plan))
	params.Set("active", "true")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/prices", params)
	if err != nil {
		return types.PlanPrice{}, s.wrapStripeError("GetPlanPrice", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PlanPrice{}, s.handleErrorResponse(resp, "GetPlanPrice")
	}

	var list stripePriceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return types.PlanPrice{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe price list response",
			err,
		)
	}

	if len(list.Data) == 0 {
		return types.PlanPrice{}, types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("no active price with lookup key %q", billing.LookupKey(plan)),
			nil,
		)
	}

	price := list.Data[0]
	return types.PlanPrice{
		AmountCents: price.UnitAmount,
		Currency:    price.Currency,
		PriceID:     price.ID,
	}, nil
}

// SyncSubscriptionPlan switches the subscription item to the plan's current
// price, prorating immediately.
func (s *StripeClient) SyncSubscriptionPlan(ctx context.Context, sub types.SubscriptionRef, plan types.PlanType) error {
	if sub.ItemID == "" {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			"subscription has no item to update",
			nil,
		)
	}

	price, err := s.GetPlanPrice(ctx, plan)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("price", price.PriceID)
	params.Set("proration_behavior", "create_prorations")

	resp, err := s.doPost(ctx, "/v1/subscription_items/"+sub.ItemID, params)
	if err != nil {
		return s.wrapStripeError("SyncSubscriptionPlan", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "SyncSubscriptionPlan")
	}
	return nil
}

// ReportUsage emits one meter event for a completed task. The identifier
// doubles as the idempotency key: Stripe deduplicates meter events by
// identifier, so a provider-side retry cannot double-bill.
func (s *StripeClient) ReportUsage(ctx context.Context, customerRef, idempotencyKey string, quantity int64) error {
	params := url.Values{}
	params.Set("event_name", meterEventName)
	params.Set("identifier", idempotencyKey)
	params.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("payload[stripe_customer_id]", customerRef)
	params.Set("payload[value]", strconv.FormatInt(quantity, 10))

	resp, err := s.doPost(ctx, "/v1/billing/meter_events", params)
	if err != nil {
		return s.wrapStripeError("ReportUsage", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "ReportUsage")
	}
	return nil
}

// HasValidPaymentMethod reports whether the customer has at least one card
// on file. A customer with no provider record has no payment method.
func (s *StripeClient) HasValidPaymentMethod(ctx context.Context, customerRef string) (bool, error) {
	if customerRef == "" {
		return false, nil
	}

	params := url.Values{}
	params.Set("customer", customerRef)
	params.Set("type", "card")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/payment_methods", params)
	if err != nil {
		return false, s.wrapStripeError("HasValidPaymentMethod", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, s.handleErrorResponse(resp, "HasValidPaymentMethod")
	}

	var list stripePaymentMethodList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment method response",
			err,
		)
	}
	return len(list.Data) > 0, nil
}

// CreateUsageSubscription creates a metered subscription for the customer
// on the given plan's current price.
func (s *StripeClient) CreateUsageSubscription(ctx context.Context, customerRef string, plan types.PlanType) (types.SubscriptionRef, error) {
	price, err := s.GetPlanPrice(ctx, plan)
	if err != nil {
		return types.SubscriptionRef{}, err
	}

	params := url.Values{}
	params.Set("customer", customerRef)
	params.Set("items[0][price]", price.PriceID)
	params.Set("payment_behavior", "default_incomplete")
	params.Set("payment_settings[save_default_payment_method]", "on_subscription")
	params.Set("metadata[plan]", string(plan))

	resp, err := s.doPost(ctx, "/v1/subscriptions", params)
	if err != nil {
		return types.SubscriptionRef{}, s.wrapStripeError("CreateUsageSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.SubscriptionRef{}, s.handleErrorResponse(resp, "CreateUsageSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return types.SubscriptionRef{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription response",
			err,
		)
	}

	ref := types.SubscriptionRef{
		SubscriptionID: sub.ID,
		CustomerID:     customerRef,
	}
	if len(sub.Items.Data) > 0 {
		ref.ItemID = sub.Items.Data[0].ID
	}
	return ref, nil
}

// CancelSubscriptionAtPeriodEnd schedules the subscription for cancellation
// after the final billing cycle.
func (s *StripeClient) CancelSubscriptionAtPeriodEnd(ctx context.Context, sub types.SubscriptionRef) error {
	if sub.SubscriptionID == "" {
		return nil
	}

	params := url.Values{}
	params.Set("cancel_at_period_end", "true")

	resp, err := s.doPost(ctx, "/v1/subscriptions/"+sub.SubscriptionID, params)
	if err != nil {
		return s.wrapStripeError("CancelSubscriptionAtPeriodEnd", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "CancelSubscriptionAtPeriodEnd")
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

// doPost performs an authenticated POST request with form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors (breaker open, retries exhausted) already carry the
	// right upstream code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBilling,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripePrice struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	LookupKey  string `json:"lookup_key"`
}

type stripePriceList struct {
	Data []stripePrice `json:"data"`
}

type stripePaymentMethodList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Items  struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"items"`
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier validates webhook payloads using stripe-go's HMAC-SHA256
// signature check with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
