package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/internal/audit"
	"github.com/vantagelink/rollout/internal/config"
	"github.com/vantagelink/rollout/internal/flowdef"
	"github.com/vantagelink/rollout/internal/identity"
	"github.com/vantagelink/rollout/internal/notification"
	"github.com/vantagelink/rollout/internal/observability"
	"github.com/vantagelink/rollout/internal/project"
	"github.com/vantagelink/rollout/internal/store"
	"github.com/vantagelink/rollout/internal/transport"
	"github.com/vantagelink/rollout/model"
)

// TestHarness wires the full HTTP stack against an in-memory store: real
// router, real JWT verification against an embedded JWKS issuer, flows
// seeded from YAML, and the static role policy file.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Store  *store.MemoryStore
	Engine *approval.Engine
	Dedup  *notification.MemoryDedupStore
}

type harnessOptions struct {
	handlerTimeout   time.Duration
	warningThreshold time.Duration
	reminderInterval time.Duration
}

// HarnessOption customizes harness construction.
type HarnessOption func(*harnessOptions)

// WithHandlerTimeout overrides the per-request handler deadline.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(o *harnessOptions) { o.handlerTimeout = d }
}

// WithNotificationWindows overrides the SLA warning threshold and the
// overdue reminder interval.
func WithNotificationWindows(warning, reminder time.Duration) HarnessOption {
	return func(o *harnessOptions) {
		o.warningThreshold = warning
		o.reminderInterval = reminder
	}
}

// NewHarness builds the full stack and starts an httptest server. The
// server and JWKS issuer are torn down via t.Cleanup.
func NewHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	options := harnessOptions{
		handlerTimeout:   10 * time.Second,
		warningThreshold: 4 * time.Hour,
		reminderInterval: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}

	issuer := newTokenIssuer(t)
	logger := zap.NewNop()

	st := store.NewMemoryStore()
	st.PutProject(model.Project{
		ID:       "proj-1",
		Code:     "PRJ-001",
		Name:     "North Ring Expansion",
		Area:     "North",
		StatusID: "st-project-planning",
	})

	seeder := flowdef.NewSeeder(st, logger, 24)
	if err := seeder.Seed(context.Background(), []string{testdataPath(t, "flows")}); err != nil {
		t.Fatalf("seed flows: %v", err)
	}

	policy, err := identity.NewStaticRolePolicy(testdataPath(t, "roles.yaml"))
	if err != nil {
		t.Fatalf("load role policy: %v", err)
	}
	roles := identity.NewResolver(policy, time.Minute)

	engine := approval.NewEngine(st, roles, project.NewBridge(), audit.NewLogSink(logger))

	dedup := notification.NewMemoryDedupStore()
	notifier := notification.NewNotifier(dedup, logger, options.warningThreshold, options.reminderInterval)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = options.handlerTimeout
	cfg.Identity.Issuer = issuer.Issuer()
	cfg.Identity.Audience = issuer.Audience()
	cfg.Identity.JWKSURL = issuer.JWKSURL()

	jwks := transport.NewJWKSClient(issuer.JWKSURL(), time.Hour, logger)
	authenticate := transport.JWTAuthenticator(cfg.Identity, jwks)

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Engine:   engine,
		Notifier: notifier,
		Checks: observability.ReadinessChecks{
			FlowsLoaded: func() bool { return true },
			Store:       st,
		},
		Authenticate: authenticate,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestHarness{
		t:      t,
		server: server,
		issuer: issuer,
		Store:  st,
		Engine: engine,
		Dedup:  dedup,
	}
}

func testdataPath(t *testing.T, parts ...string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve testdata directory")
	}
	return filepath.Join(append([]string{filepath.Dir(file), "testdata"}, parts...)...)
}

// Token signs a valid JWT for the given claims.
func (h *TestHarness) Token(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// ExpiredToken signs a JWT that expired an hour ago.
func (h *TestHarness) ExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GET performs a GET request with the given bearer token. An empty token
// sends no Authorization header.
func (h *TestHarness) GET(path, token string) *http.Response {
	return h.doRequest(http.MethodGet, path, token, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path, token string, body any) *http.Response {
	return h.doRequest(http.MethodPost, path, token, body)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path, token string, body any) *http.Response {
	return h.doRequest(http.MethodPut, path, token, body)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	return h.doRequest(http.MethodDelete, path, token, nil)
}

func (h *TestHarness) doRequest(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// ParseJSON decodes the response body into a generic map and closes it.
func (h *TestHarness) ParseJSON(resp *http.Response) map[string]any {
	h.t.Helper()
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		h.t.Fatalf("decode response body: %v", err)
	}
	return out
}

// ReadBody drains and closes the response body.
func (h *TestHarness) ReadBody(resp *http.Response) string {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return string(data)
}

// AssertStatus fails the test when the response status differs from want.
func (h *TestHarness) AssertStatus(resp *http.Response, want int) {
	h.t.Helper()
	if resp.StatusCode != want {
		body := h.ReadBody(resp)
		h.t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

// ErrorCode extracts the error code from an error envelope response.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	body := h.ParseJSON(resp)
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		h.t.Fatalf("response is not an error envelope: %v", body)
	}
	code, _ := envelope["code"].(string)
	return code
}

// PlannerClaims returns claims for a planner who can submit projects.
func PlannerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-planner",
		Email:     "planner@rollout.dev",
		Name:      "Pat Planner",
		Roles:     []string{"role-planner"},
	}
}

// AreaLeadClaims returns claims for the first approval step.
func AreaLeadClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-area",
		Email:     "area@rollout.dev",
		Name:      "Alex Area",
		Roles:     []string{"role-area"},
	}
}

// RegionalHeadClaims returns claims for the second approval step.
func RegionalHeadClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-region",
		Email:     "region@rollout.dev",
		Name:      "Riley Region",
		Roles:     []string{"role-region"},
	}
}

// DirectorClaims returns claims for the final approval step.
func DirectorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-director",
		Email:     "director@rollout.dev",
		Name:      "Dana Director",
		Roles:     []string{"role-director"},
	}
}
