package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout is the maximum time allowed for all health probes to
// complete. If any probe exceeds this deadline, the health check returns
// 503 Service Unavailable.
const healthCheckTimeout = 2 * time.Second

// HealthProbe defines the interface for a subsystem health check. Each
// probe represents a critical dependency (database, queue) that must be
// operational for the service to function.
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe.
	Name() string

	// Check performs the health check against the subsystem. It should
	// respect the context deadline.
	Check(ctx context.Context) error
}

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// NewHealthHandler returns a handler that executes all probes concurrently
// with a short timeout. It returns 200 OK if every probe reports healthy,
// 503 otherwise. The endpoint is public and mounted at GET /health.
func NewHealthHandler(probes ...HealthProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if len(probes) == 0 {
			JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
			return
		}

		type probeResult struct {
			name string
			err  error
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			results = make([]probeResult, 0, len(probes))
		)

		for _, probe := range probes {
			wg.Add(1)
			go func(p HealthProbe) {
				defer wg.Done()

				var err error
				func() {
					defer func() {
						if rvr := recover(); rvr != nil {
							err = fmt.Errorf("probe panicked: %v", rvr)
						}
					}()
					err = p.Check(ctx)
				}()

				mu.Lock()
				results = append(results, probeResult{name: p.Name(), err: err})
				mu.Unlock()
			}(probe)
		}
		wg.Wait()

		components := make(map[string]componentStatus, len(results))
		healthy := true
		for _, res := range results {
			if res.err != nil {
				healthy = false
				components[res.name] = componentStatus{
					Status:  "unhealthy",
					Message: res.err.Error(),
				}
			} else {
				components[res.name] = componentStatus{Status: "healthy"}
			}
		}

		status := http.StatusOK
		overall := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}
		JSON(w, r, status, healthResponse{Status: overall, Components: components})
	}
}
