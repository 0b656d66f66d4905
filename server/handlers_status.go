package server

import (
	"encoding/json"
	"net/http"
)

// HandleStatus returns a summary of the bot's configuration and stored state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	stats := map[string]any{
		"channels": h.cfg.TwitchChannels,
	}
	var groups, policies, users, banned int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permission_groups`).Scan(&groups)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM moderation_policies`).Scan(&policies)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&users)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE standing=1`).Scan(&banned)
	stats["permission_groups"] = groups
	stats["moderation_policies"] = policies
	stats["known_users"] = users
	stats["banned_users"] = banned

	var tokenPresent bool
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*)>0 FROM oauth_tokens WHERE provider='twitch'`).Scan(&tokenPresent)
	stats["twitch_token_present"] = tokenPresent

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
