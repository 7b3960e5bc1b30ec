package external

import (
	"log/slog"
	"net/http"
	"time"

	"kidscan/internal/billing"
	"kidscan/internal/config"
)

// WebhookVerifier validates a raw webhook payload against its signature
// header and the endpoint's signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

var _ WebhookVerifier = (*StripeVerifier)(nil)
var _ WebhookVerifier = (*StubWebhookVerifier)(nil)

// ClientRegistry holds all external service clients. It is the single point
// of access for the rest of the application to reach the billing provider.
type ClientRegistry struct {
	Gateway  billing.Gateway
	Verifier WebhookVerifier
}

// NewClientRegistry initializes the external clients.
// If cfg.IsTestMode is true or cfg.Environment is "local", the registry is
// populated with stub implementations that log actions without requiring
// real credentials. Otherwise, real clients are built with strict timeouts.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	useStubs := cfg.IsTestMode || cfg.Environment == "local"
	if useStubs {
		logger.Info("initializing external clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		stubLogger := logger.With("mode", "stub")
		return &ClientRegistry{
			Gateway:  NewStubGateway(stubLogger),
			Verifier: NewStubWebhookVerifier(stubLogger),
		}, nil
	}

	logger.Info("initializing external clients in PRODUCTION mode",
		"environment", cfg.Environment,
	)

	// Stripe calls never run inside a database transaction, so a slow
	// provider call degrades only the request that made it.
	stripeHTTPClient := &http.Client{Timeout: 20 * time.Second}
	gateway := NewStripeClient(stripeHTTPClient, StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger.With("client", "stripe"),
	})

	return &ClientRegistry{
		Gateway:  gateway,
		Verifier: &StripeVerifier{},
	}, nil
}
