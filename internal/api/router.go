// Package api assembles the HTTP surface: middleware chain, versioned
// routes, the public webhook endpoint, and health checks.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"kidscan/internal/api/handlers"
	"kidscan/internal/core"
)

// Dependencies carries the fully wired handlers mounted by NewRouter.
type Dependencies struct {
	Services  *handlers.ServiceHandler
	Tasks     *handlers.TaskHandler
	Referrals *handlers.ReferralHandler
	Webhook   *handlers.StripeWebhookHandler
	Probes    []core.HealthProbe
	Logger    *slog.Logger
}

// NewRouter builds the chi router. The webhook and health endpoints sit
// outside the identity middleware; everything else under /v1 requires the
// caller headers set by the edge proxy.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(core.RequestID)
	r.Use(core.Recoverer(logger))
	r.Use(core.SecurityHeaders)
	r.Use(core.RequestLogger(logger))

	r.Get("/health", core.NewHealthHandler(deps.Probes...))

	r.Route("/v1", func(v1 chi.Router) {
		if deps.Webhook != nil {
			deps.Webhook.RegisterRoutes(v1)
		}

		v1.Group(func(auth chi.Router) {
			auth.Use(core.ActorFromHeaders)
			if deps.Services != nil {
				deps.Services.RegisterRoutes(auth)
			}
			if deps.Tasks != nil {
				deps.Tasks.RegisterRoutes(auth)
			}
			if deps.Referrals != nil {
				deps.Referrals.RegisterRoutes(auth)
			}
		})
	})

	return r
}
