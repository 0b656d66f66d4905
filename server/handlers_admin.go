package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/streamactions/streamactions/db"
	"github.com/streamactions/streamactions/levels"
	"github.com/streamactions/streamactions/permissions"
)

// HandleAdminPermissions serves the permission-name registry: list the
// registered names, register a new one, or unregister a name and strip it
// from every group that references it.
func (h *Handlers) HandleAdminPermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		reg := h.manager.Registry
		type entry struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
		}
		out := []entry{}
		for _, name := range reg.Names() {
			desc, _ := reg.Describe(name)
			out = append(out, entry{Name: name, Description: desc})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"permissions": out})

	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := h.manager.RegisterPermission(req.Name, req.Description); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "name": permissions.Normalize(req.Name)})

	case http.MethodDelete:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		if err := h.manager.UnregisterPermission(r.Context(), req.Name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "name": permissions.Normalize(req.Name)})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminGroups serves the group collection: list per channel, create,
// and delete.
func (h *Handlers) HandleAdminGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channelID := r.URL.Query().Get("channel_id")
		if channelID == "" {
			http.Error(w, "channel_id required", http.StatusBadRequest)
			return
		}
		groups, err := h.manager.Store.GroupsForChannel(r.Context(), channelID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type groupView struct {
			ID      string              `json:"id"`
			Name    string              `json:"name"`
			Entries []permissions.Entry `json:"entries"`
		}
		out := []groupView{}
		for i := range groups {
			out = append(out, groupView{ID: groups[i].ID, Name: groups[i].Name, Entries: groups[i].Entries})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"channel_id": channelID, "groups": out})

	case http.MethodPost:
		var req struct {
			ChannelID string `json:"channel_id"`
			Name      string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.ChannelID == "" || req.Name == "" {
			http.Error(w, "channel_id and name required", http.StatusBadRequest)
			return
		}
		g, err := h.manager.CreateGroup(r.Context(), req.ChannelID, req.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "id": g.ID, "name": g.Name})

	case http.MethodDelete:
		var req struct {
			ChannelID string `json:"channel_id"`
			Name      string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := h.manager.DeleteGroup(r.Context(), req.ChannelID, req.Name); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, permissions.ErrGroupNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminGroupMembers adds or removes a group member.
func (h *Handlers) HandleAdminGroupMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChannelID string `json:"channel_id"`
		Group     string `json:"group"`
		UserID    string `json:"user_id"`
		Action    string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	var err error
	switch strings.ToLower(req.Action) {
	case "add":
		err = h.manager.AddMember(r.Context(), req.ChannelID, req.Group, req.UserID)
	case "remove":
		err = h.manager.RemoveMember(r.Context(), req.ChannelID, req.Group, req.UserID)
	default:
		http.Error(w, "action must be add or remove", http.StatusBadRequest)
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, permissions.ErrGroupNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "group": req.Group, "user_id": req.UserID})
}

// HandleAdminGroupEntries mutates a group's allow/deny entries.
func (h *Handlers) HandleAdminGroupEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChannelID  string `json:"channel_id"`
		Group      string `json:"group"`
		Permission string `json:"permission"`
		Action     string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	var err error
	switch strings.ToLower(req.Action) {
	case "allow":
		err = h.manager.AllowPermission(r.Context(), req.ChannelID, req.Group, req.Permission)
	case "deny":
		err = h.manager.DenyPermission(r.Context(), req.ChannelID, req.Group, req.Permission)
	case "remove":
		err = h.manager.RemovePermission(r.Context(), req.ChannelID, req.Group, req.Permission)
	default:
		http.Error(w, "action must be allow, deny, or remove", http.StatusBadRequest)
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, permissions.ErrGroupNotFound):
			status = http.StatusNotFound
		case errors.Is(err, permissions.ErrEntryNotFound):
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"group":      req.Group,
		"permission": permissions.Normalize(req.Permission),
	})
}

// HandleAdminStanding sets a user's global standing.
func (h *Handlers) HandleAdminStanding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		UserID   string `json:"user_id"`
		Standing string `json:"standing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	var standing levels.GlobalStanding
	switch strings.ToLower(req.Standing) {
	case "", "none":
		standing = levels.StandingNone
	case "banned":
		standing = levels.StandingBanned
	case "superadmin":
		standing = levels.StandingSuperAdmin
	default:
		http.Error(w, "standing must be none, banned, or superadmin", http.StatusBadRequest)
		return
	}
	if err := db.SetStanding(r.Context(), h.db, req.UserID, standing); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "user_id": req.UserID, "standing": standing.String()})
}
