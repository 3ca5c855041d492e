package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct {
	err error
}

func (c fakeChecker) HealthCheck(context.Context) error { return c.err }

func readyResponse(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode readiness body: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_ReportsBuildInfo(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version, Commit = "1.2.3", "abc1234"
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })

	rec := httptest.NewRecorder()
	HandleHealth()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("body = %+v", resp)
	}
}

func TestHandleReady_FlowsLoadedIsEnough(t *testing.T) {
	code, resp := readyResponse(t, ReadinessChecks{
		FlowsLoaded: func() bool { return true },
	})

	if code != http.StatusOK {
		t.Fatalf("status %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 1 || resp.Checks["flows"].Status != "ok" {
		t.Errorf("checks = %+v, want only flows ok", resp.Checks)
	}
}

func TestHandleReady_MissingFlowsFails(t *testing.T) {
	tests := []struct {
		name  string
		flows func() bool
	}{
		{"nil hook", nil},
		{"hook reports false", func() bool { return false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := readyResponse(t, ReadinessChecks{FlowsLoaded: tt.flows})
			if code != http.StatusServiceUnavailable {
				t.Fatalf("status %d, want 503", code)
			}
			if resp.Status != "not_ready" {
				t.Errorf("status %q, want not_ready", resp.Status)
			}
			flows := resp.Checks["flows"]
			if flows.Status != "error" || flows.Error == "" {
				t.Errorf("flows check = %+v, want error with message", flows)
			}
		})
	}
}

func TestHandleReady_OptionalCheckersRunWhenSet(t *testing.T) {
	code, resp := readyResponse(t, ReadinessChecks{
		FlowsLoaded: func() bool { return true },
		Store:       fakeChecker{},
		DedupStore:  fakeChecker{},
	})

	if code != http.StatusOK {
		t.Fatalf("status %d, want 200", code)
	}
	if len(resp.Checks) != 3 {
		t.Fatalf("%d checks, want 3", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s check = %+v, want ok", name, check)
		}
		if check.LatencyMs < 0 {
			t.Errorf("%s latency %d, want >= 0", name, check.LatencyMs)
		}
	}
}

func TestHandleReady_StoreFailureSurfaces(t *testing.T) {
	code, resp := readyResponse(t, ReadinessChecks{
		FlowsLoaded: func() bool { return true },
		Store:       fakeChecker{err: errors.New("connection refused")},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", code)
	}
	store := resp.Checks["store"]
	if store.Status != "error" || store.Error != "connection refused" {
		t.Errorf("store check = %+v", store)
	}
	if resp.Checks["flows"].Status != "ok" {
		t.Errorf("flows check should still be ok, got %+v", resp.Checks["flows"])
	}
}

func TestHandleReady_DedupStoreFailureSurfaces(t *testing.T) {
	code, resp := readyResponse(t, ReadinessChecks{
		FlowsLoaded: func() bool { return true },
		DedupStore:  fakeChecker{err: errors.New("redis timeout")},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", code)
	}
	if resp.Checks["dedup_store"].Status != "error" {
		t.Errorf("dedup_store check = %+v", resp.Checks["dedup_store"])
	}
}

func TestHandleReady_ReportsEveryFailure(t *testing.T) {
	code, resp := readyResponse(t, ReadinessChecks{
		FlowsLoaded: func() bool { return false },
		Store:       fakeChecker{err: errors.New("pg down")},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", code)
	}
	var failed int
	for _, check := range resp.Checks {
		if check.Status == "error" {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("%d failed checks, want 2", failed)
	}
}
