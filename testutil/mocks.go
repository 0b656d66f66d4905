package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	bans []BanRequest
	dels []string
}

// BanRequest captures a call to the moderation bans endpoint.
type BanRequest struct {
	UserID   string `json:"user_id"`
	Duration int    `json:"duration,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockBanEndpoint adds a handler for the /helix/moderation/bans endpoint that
// records each timeout/ban request for later inspection.
func (m *MockTwitchServer) MockBanEndpoint() {
	m.Handlers["/helix/moderation/bans"] = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data BanRequest `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.bans = append(m.bans, body.Data)
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

// MockDeleteMessageEndpoint adds a handler for /helix/moderation/chat that
// records each deleted message id.
func (m *MockTwitchServer) MockDeleteMessageEndpoint() {
	m.Handlers["/helix/moderation/chat"] = func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.dels = append(m.dels, r.URL.Query().Get("message_id"))
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

// BanRequests returns the ban/timeout requests seen so far.
func (m *MockTwitchServer) BanRequests() []BanRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BanRequest, len(m.bans))
	copy(out, m.bans)
	return out
}

// DeletedMessageIDs returns the message ids deleted so far.
func (m *MockTwitchServer) DeletedMessageIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.dels))
	copy(out, m.dels)
	return out
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
