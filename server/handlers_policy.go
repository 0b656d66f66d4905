package server

import (
	"encoding/json"
	"net/http"

	"github.com/streamactions/streamactions/moderation"
)

// HandleAdminPolicy serves the per-channel moderation policy document.
// Saving validates and compiles the document up front so a bad blacklist
// pattern is rejected here instead of silently disabling a filter at
// evaluation time.
func (h *Handlers) HandleAdminPolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channelID := r.URL.Query().Get("channel_id")
		if channelID == "" {
			http.Error(w, "channel_id required", http.StatusBadRequest)
			return
		}
		cp, err := h.policies.PolicyFor(r.Context(), channelID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if cp == nil {
			http.Error(w, "no policy configured", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cp.ChannelPolicy)

	case http.MethodPut, http.MethodPost:
		var doc moderation.ChannelPolicy
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		channelID := doc.ChannelID
		if channelID == "" {
			channelID = r.URL.Query().Get("channel_id")
		}
		if channelID == "" {
			http.Error(w, "channel_id required", http.StatusBadRequest)
			return
		}
		if err := h.policies.SavePolicy(r.Context(), channelID, &doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "channel_id": channelID})

	case http.MethodDelete:
		channelID := r.URL.Query().Get("channel_id")
		if channelID == "" {
			http.Error(w, "channel_id required", http.StatusBadRequest)
			return
		}
		if err := h.policies.DeletePolicy(r.Context(), channelID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "channel_id": channelID})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
