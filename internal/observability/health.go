package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
// FlowsLoaded always runs; the store checkers run only when non-nil.
type ReadinessChecks struct {
	FlowsLoaded func() bool
	Store       HealthChecker
	DedupStore  HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. All checks
// run concurrently; any failing check makes the whole response 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := map[string]func(context.Context) error{
			"flows": func(context.Context) error {
				if checks.FlowsLoaded == nil || !checks.FlowsLoaded() {
					return errors.New("no approval flows loaded")
				}
				return nil
			},
		}
		if checks.Store != nil {
			probes["store"] = checks.Store.HealthCheck
		}
		if checks.DedupStore != nil {
			probes["dedup_store"] = checks.DedupStore.HealthCheck
		}

		results := runProbes(r.Context(), probes)

		status, httpStatus := "ready", http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				status, httpStatus = "not_ready", http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, httpStatus, ReadinessResponse{Status: status, Checks: results})
	}
}

// runProbes executes every probe concurrently, each under its own timeout.
func runProbes(parent context.Context, probes map[string]func(context.Context) error) map[string]CheckResult {
	results := make(map[string]CheckResult, len(probes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe func(context.Context) error) {
			defer wg.Done()
			res := timeProbe(parent, probe)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()
	return results
}

func timeProbe(parent context.Context, probe func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
