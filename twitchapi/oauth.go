package twitchapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/streamactions/streamactions/db"
)

type AuthCodeExchangeResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// RefreshResult represents the response from a refresh_token grant.
type RefreshResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// BuildAuthorizeURL constructs the user authorization URL for OAuth code grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return "https://id.twitch.tv/oauth2/authorize?" + v.Encode(), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*AuthCodeExchangeResult, error) {
	if clientID == "" || clientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://id.twitch.tv/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch auth code exchange failed: %s: %s", resp.Status, string(b))
	}
	var res AuthCodeExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// UserTokenSource serves the persisted bot user token from the oauth_tokens
// table, refreshing through the refresh_token grant when it nears expiry.
// It implements TokenProvider so the Helix client can run the moderation
// endpoints, which require a user token with moderator scopes.
type UserTokenSource struct {
	DB           *sql.DB
	ClientID     string
	ClientSecret string
	// Provider defaults to "twitch".
	Provider string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (u *UserTokenSource) provider() string {
	if u.Provider != "" {
		return u.Provider
	}
	return "twitch"
}

// Get returns a valid user access token, refreshing and re-persisting it when
// within a minute of expiry.
func (u *UserTokenSource) Get(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.token != "" && time.Until(u.expiresAt) > 60*time.Second {
		return u.token, nil
	}

	access, refresh, expiry, _, err := db.GetOAuthToken(ctx, u.DB, u.provider())
	if err != nil {
		return "", fmt.Errorf("load user token: %w", err)
	}
	if access == "" && refresh == "" {
		return "", errors.New("no user token stored; complete the OAuth login flow first")
	}

	if access != "" && time.Until(expiry) > 60*time.Second {
		u.token, u.expiresAt = access, expiry
		return u.token, nil
	}
	if refresh == "" {
		return "", errors.New("user token expired and no refresh token stored")
	}

	res, err := RefreshToken(ctx, u.ClientID, u.ClientSecret, refresh)
	if err != nil {
		return "", fmt.Errorf("refresh user token: %w", err)
	}
	newExpiry := ComputeExpiry(res.ExpiresIn)
	if err := db.UpsertOAuthToken(ctx, u.DB, u.provider(), res.AccessToken, res.RefreshToken, newExpiry, strings.Join(res.Scope, " ")); err != nil {
		slog.Warn("failed to persist refreshed user token", slog.Any("err", err), slog.String("component", "twitchapi"))
	}
	u.token, u.expiresAt = res.AccessToken, newExpiry
	return u.token, nil
}

// Invalidate drops the in-memory copy so the next Get re-reads storage.
func (u *UserTokenSource) Invalidate() {
	u.mu.Lock()
	u.token = ""
	u.expiresAt = time.Time{}
	u.mu.Unlock()
}

// RefreshToken exchanges a refresh token for a new access token.
func RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*RefreshResult, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://id.twitch.tv/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch refresh failed: %s: %s", resp.Status, string(b))
	}
	var res RefreshResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}
