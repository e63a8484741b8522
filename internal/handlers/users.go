package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatline/internal/store"
)

// ContactCheckResponse reports the username registered under a contact.
type ContactCheckResponse struct {
	Username string `json:"username"`
}

// ExistsResponse reports whether a record exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// SetUsernameRequest represents the username assignment body.
type SetUsernameRequest struct {
	Contact  string `json:"contact"`
	Username string `json:"username"`
}

// UsernameRequest is a body carrying only a username.
type UsernameRequest struct {
	Username string `json:"username"`
}

// SearchRequest represents the user search body.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is a single user search hit.
type SearchResult struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserStatusResponse reports whether a user is connected and when they were
// last seen.
type UserStatusResponse struct {
	Username    string     `json:"username"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	LastSeenAgo string     `json:"lastSeenAgo,omitempty"`
}

// LastSeenRequest represents the last-seen update body.
type LastSeenRequest struct {
	Username string    `json:"username"`
	LastSeen time.Time `json:"lastSeen"`
}

// CheckContact returns the username registered for a contact.
func (h *Handler) CheckContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.db.GetUserByContact(r.Context(), sanitizeName(req.Contact))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, ContactCheckResponse{Username: user.Username})
}

// ContactExists reports whether any user is registered for a contact.
func (h *Handler) ContactExists(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.db.GetUserByContact(r.Context(), sanitizeName(req.Contact))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, ExistsResponse{Exists: user != nil})
}

// SetUsername assigns a username to the user registered under a contact.
func (h *Handler) SetUsername(w http.ResponseWriter, r *http.Request) {
	var req SetUsernameRequest
	if !h.decode(w, r, &req) {
		return
	}

	contact := sanitizeName(req.Contact)
	username := sanitizeName(req.Username)
	if contact == "" {
		h.Error(w, http.StatusBadRequest, "contact is required")
		return
	}
	if !isValidUsername(username) {
		h.Error(w, http.StatusBadRequest, "username must be 3-32 letters, digits, '.', '_' or '-'")
		return
	}

	err := h.db.SetUsername(r.Context(), contact, username)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		h.Error(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, store.ErrUsernameTaken):
		h.Error(w, http.StatusConflict, "username already taken")
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("set username")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, UsernameRequest{Username: username})
}

// UsernameExists reports whether a username is taken.
func (h *Handler) UsernameExists(w http.ResponseWriter, r *http.Request) {
	var req UsernameRequest
	if !h.decode(w, r, &req) {
		return
	}

	username := sanitizeName(req.Username)
	if username == "" {
		h.Error(w, http.StatusBadRequest, "username is required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, ExistsResponse{Exists: user != nil})
}

// SearchUsers finds verified users whose username contains the query.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !h.decode(w, r, &req) {
		return
	}

	query := sanitizeName(req.Query)
	if len(query) > 32 {
		h.Error(w, http.StatusBadRequest, "query too long (max 32 chars)")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	users, err := h.db.SearchUsers(r.Context(), query, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := make([]SearchResult, len(users))
	for i, u := range users {
		results[i] = SearchResult{ID: u.ID.String(), Username: u.Username}
	}
	h.JSON(w, http.StatusOK, results)
}

// UserStatus reports a user's presence. Online comes from the live relay;
// lastSeen is the later of the directory's record and the relay's memory,
// since the directory is written asynchronously.
func (h *Handler) UserStatus(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	resp := UserStatusResponse{Username: username, LastSeen: user.LastSeen}
	if h.presence != nil {
		live := h.presence.Status(username)
		resp.Online = live.Online
		if live.LastSeen != nil && (resp.LastSeen == nil || live.LastSeen.After(*resp.LastSeen)) {
			resp.LastSeen = live.LastSeen
		}
	}
	if resp.Online {
		resp.LastSeen = nil
	} else if resp.LastSeen != nil {
		resp.LastSeenAgo = formatTimeAgo(*resp.LastSeen)
	}

	h.JSON(w, http.StatusOK, resp)
}

// UpdateLastSeen records a last-seen time reported by an external relay.
func (h *Handler) UpdateLastSeen(w http.ResponseWriter, r *http.Request) {
	var req LastSeenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		h.Error(w, http.StatusBadRequest, "username is required")
		return
	}

	seen := req.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}

	err := h.db.UpdateLastSeen(r.Context(), req.Username, seen)
	if errors.Is(err, store.ErrUserNotFound) {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, StatusResponse{Status: "last seen updated"})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
