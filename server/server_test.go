package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamactions/streamactions/config"
	"github.com/streamactions/streamactions/moderation"
	"github.com/streamactions/streamactions/permissions"
	"github.com/streamactions/streamactions/testutil"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	database := testutil.SetupTestDB(t)
	store := permissions.NewStore(database)
	manager := permissions.NewManager(permissions.NewRegistry(), store)
	policies, err := moderation.NewPolicyStore(database)
	if err != nil {
		t.Fatalf("NewPolicyStore: %v", err)
	}
	cfg := &config.Config{TwitchChannels: []string{"somechannel"}}
	return NewHandlers(context.Background(), database, cfg, manager, policies)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewMux(ctx, newTestHandlers(t)))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("response missing X-Correlation-ID header")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", "my-corr-id")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Correlation-ID"); got != "my-corr-id" {
		t.Errorf("correlation id = %q, want my-corr-id (provided ids are reused)", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "test-admin-token")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/admin/permissions")
	if err != nil {
		t.Fatalf("GET /admin/permissions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated admin request = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/permissions", nil)
	req.Header.Set("X-Admin-Token", "test-admin-token")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("authenticated admin request = %d, want 200", resp2.StatusCode)
	}
}
