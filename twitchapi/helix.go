// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for user id resolution and chat moderation actions.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// helixMaxRetries bounds transient-failure retries (429/5xx). A 401 grants
// one extra attempt after a token refresh, even on the final retry slot.
const helixMaxRetries = 3

// HelixClient provides the Helix calls the bot needs: user lookup and the
// moderation endpoints behind the punishment executor.
type HelixClient struct {
	Tokens     TokenProvider
	ClientID   string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// do issues one Helix request with retry on 429/5xx and a single
// refresh-and-retry on 401. Callers own the returned body.
func (hc *HelixClient) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode helix request: %w", err)
		}
	}

	var lastErr error
	refreshed := false
	for attempt := 0; attempt < helixMaxRetries; attempt++ {
		tok, err := hc.Tokens.Get(ctx)
		if err != nil {
			return nil, err
		}
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, "https://api.twitch.tv"+path, rdr)
		if err != nil {
			return nil, err
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := hc.http().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			closeBody(resp)
			hc.Tokens.Invalidate()
			refreshed = true
			attempt--
			continue
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			closeBody(resp)
			lastErr = fmt.Errorf("helix %s %s: %s", method, path, resp.Status)
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
			continue
		case resp.StatusCode >= 400:
			b, _ := io.ReadAll(resp.Body)
			closeBody(resp)
			return nil, fmt.Errorf("helix %s %s: %s: %s", method, path, resp.Status, string(b))
		}
		return resp, nil
	}
	return nil, fmt.Errorf("helix %s %s failed after %d attempts: %w", method, path, helixMaxRetries, lastErr)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	resp, err := hc.do(ctx, http.MethodGet, "/helix/users", q, nil)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// BanUser times out (duration > 0) or permanently bans (duration 0) a user in
// a channel. The moderator id must belong to the account that authorized the
// moderator:manage:banned_users scope.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, durationSeconds int, reason string) error {
	if broadcasterID == "" || moderatorID == "" || userID == "" {
		return fmt.Errorf("broadcaster, moderator, and user ids are required")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	data := map[string]any{"user_id": userID}
	if durationSeconds > 0 {
		data["duration"] = durationSeconds
	}
	if reason != "" {
		data["reason"] = reason
	}
	resp, err := hc.do(ctx, http.MethodPost, "/helix/moderation/bans", q, map[string]any{"data": data})
	if err != nil {
		return err
	}
	closeBody(resp)
	return nil
}

// DeleteChatMessage removes a single message from a channel's chat.
func (hc *HelixClient) DeleteChatMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	if broadcasterID == "" || moderatorID == "" || messageID == "" {
		return fmt.Errorf("broadcaster, moderator, and message ids are required")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("message_id", messageID)
	resp, err := hc.do(ctx, http.MethodDelete, "/helix/moderation/chat", q, nil)
	if err != nil {
		return err
	}
	closeBody(resp)
	return nil
}
