package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{
					{"id": "12345", "login": "testuser"},
				},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
			wantErr:    false,
		},
		{
			name:  "user not found",
			login: "nonexistent",
			response: map[string]interface{}{
				"data": []map[string]string{},
			},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if tt.login != "" && r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			ts := &TokenSource{
				ClientID:     "test-client-id",
				ClientSecret: "test-secret",
			}
			ts.SetToken("test-token", time.Now().Add(1*time.Hour))

			client := &HelixClient{
				Tokens:   ts,
				ClientID: "test-client-id",
				HTTPClient: &http.Client{
					Transport: &rewriteTransport{
						Transport: http.DefaultTransport,
						host:      server.URL,
					},
				},
			}

			userID, err := client.GetUserID(context.Background(), tt.login)

			if tt.wantErr {
				if err == nil {
					t.Errorf("GetUserID() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}

			if err != nil {
				t.Errorf("GetUserID() unexpected error = %v", err)
				return
			}

			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_BanUser(t *testing.T) {
	var gotQuery map[string]string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/moderation/bans" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotQuery = map[string]string{
			"broadcaster_id": r.URL.Query().Get("broadcaster_id"),
			"moderator_id":   r.URL.Query().Get("moderator_id"),
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode ban body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	client := &HelixClient{
		Tokens:   ts,
		ClientID: "test-client-id",
		HTTPClient: &http.Client{Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		}},
	}

	if err := client.BanUser(context.Background(), "b-1", "m-1", "u-1", 600, "caps spam"); err != nil {
		t.Fatalf("BanUser() error = %v", err)
	}
	if gotQuery["broadcaster_id"] != "b-1" || gotQuery["moderator_id"] != "m-1" {
		t.Errorf("query = %v", gotQuery)
	}
	data, _ := gotBody["data"].(map[string]interface{})
	if data["user_id"] != "u-1" || data["duration"] != float64(600) || data["reason"] != "caps spam" {
		t.Errorf("body data = %v", data)
	}

	// Duration zero is a permanent ban: the duration field must be absent.
	if err := client.BanUser(context.Background(), "b-1", "m-1", "u-2", 0, ""); err != nil {
		t.Fatalf("BanUser() permanent error = %v", err)
	}
	data, _ = gotBody["data"].(map[string]interface{})
	if _, hasDuration := data["duration"]; hasDuration {
		t.Errorf("permanent ban carried duration: %v", data)
	}

	if err := client.BanUser(context.Background(), "", "m-1", "u-1", 0, ""); err == nil {
		t.Error("BanUser() with missing broadcaster id did not error")
	}
}

func TestHelixClient_BanUser429Retry(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	client := &HelixClient{
		Tokens:   ts,
		ClientID: "test-client-id",
		HTTPClient: &http.Client{Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		}},
	}

	if err := client.BanUser(context.Background(), "b-1", "m-1", "u-1", 30, ""); err != nil {
		t.Fatalf("BanUser() unexpected error after 429 retry = %v", err)
	}
	if attemptCount != 2 {
		t.Fatalf("expected 2 attempts (429 + success), got %d", attemptCount)
	}
}

func TestHelixClient_DeleteChatMessage(t *testing.T) {
	var gotMessageID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/moderation/chat" || r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotMessageID = r.URL.Query().Get("message_id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	client := &HelixClient{
		Tokens:   ts,
		ClientID: "test-client-id",
		HTTPClient: &http.Client{Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		}},
	}

	if err := client.DeleteChatMessage(context.Background(), "b-1", "m-1", "msg-9"); err != nil {
		t.Fatalf("DeleteChatMessage() error = %v", err)
	}
	if gotMessageID != "msg-9" {
		t.Errorf("message_id = %q, want msg-9", gotMessageID)
	}

	if err := client.DeleteChatMessage(context.Background(), "b-1", "m-1", ""); err == nil {
		t.Error("DeleteChatMessage() with missing message id did not error")
	}
}

func TestHelixClient_DeleteChatMessage5xxRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	client := &HelixClient{
		Tokens:   ts,
		ClientID: "test-client-id",
		HTTPClient: &http.Client{Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		}},
	}

	if err := client.DeleteChatMessage(context.Background(), "b-1", "m-1", "msg-1"); err != nil {
		t.Fatalf("DeleteChatMessage() unexpected error after 5xx retry = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts (5xx + success), got %d", attempts)
	}
}

func TestHelixClient_GetUserID401RefreshRetry(t *testing.T) {
	userAttempts := 0
	tokenRequests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
			return
		case "/helix/users":
			userAttempts++
			if userAttempts == 1 {
				if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
					t.Fatalf("first attempt auth = %q, want stale token", got)
				}
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "Unauthorized", "status": 401})
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
				t.Fatalf("second attempt auth = %q, want refreshed token", got)
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "u-123"}},
			})
			return
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	rewrite := &http.Client{
		Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		},
	}

	ts := &TokenSource{
		ClientID:     "test-client-id",
		ClientSecret: "test-secret",
		HTTPClient:   rewrite,
	}
	ts.SetToken("stale-token", time.Now().Add(1*time.Hour))

	client := &HelixClient{
		Tokens:     ts,
		ClientID:   "test-client-id",
		HTTPClient: rewrite,
	}

	userID, err := client.GetUserID(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error = %v", err)
	}
	if userID != "u-123" {
		t.Fatalf("GetUserID() = %q, want u-123", userID)
	}
	if tokenRequests != 1 {
		t.Fatalf("expected exactly one token refresh request, got %d", tokenRequests)
	}
	if userAttempts != 2 {
		t.Fatalf("expected two /helix/users attempts, got %d", userAttempts)
	}
}

func TestHelixClient_GetUserID401RefreshRetryOnFinalAttempt(t *testing.T) {
	userAttempts := 0
	tokenRequests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
			return
		case "/helix/users":
			userAttempts++
			if userAttempts < helixMaxRetries {
				// Serve 5xx to exhaust all-but-last retry slots using the stale token.
				if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
					t.Errorf("attempt %d auth = %q, want stale token", userAttempts, got)
				}
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "temporary error", "status": 500})
				return
			} else if userAttempts == helixMaxRetries {
				// Final retry with stale token should return 401 to trigger refresh.
				if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
					t.Errorf("final stale attempt auth = %q, want stale token", got)
				}
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "Unauthorized", "status": 401})
				return
			}
			// Post-refresh attempt must use the freshly-obtained token.
			if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
				t.Errorf("post-refresh attempt auth = %q, want fresh token", got)
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "u-456"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	rewrite := &http.Client{
		Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      server.URL,
		},
	}

	ts := &TokenSource{
		ClientID:     "test-client-id",
		ClientSecret: "test-secret",
		HTTPClient:   rewrite,
	}
	ts.SetToken("stale-token", time.Now().Add(1*time.Hour))

	client := &HelixClient{
		Tokens:     ts,
		ClientID:   "test-client-id",
		HTTPClient: rewrite,
	}

	userID, err := client.GetUserID(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error = %v", err)
	}
	if userID != "u-456" {
		t.Fatalf("GetUserID() = %q, want u-456", userID)
	}
	if tokenRequests != 1 {
		t.Fatalf("expected exactly one token refresh, got %d", tokenRequests)
	}
	// helixMaxRetries attempts with stale token (incl. the final 401) + 1 with fresh token.
	expectedAttempts := helixMaxRetries + 1
	if userAttempts != expectedAttempts {
		t.Fatalf("expected %d /helix/users attempts, got %d", expectedAttempts, userAttempts)
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Rewrite URL to point to test server
	req.URL.Scheme = "http"
	// Parse the test server URL and use its host
	if t.host != "" {
		// Strip the scheme from host
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
