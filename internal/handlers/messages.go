package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatline/internal/metrics"
)

// SendMessageRequest represents the send message body.
type SendMessageRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// PairRequest names the two sides of a conversation.
type PairRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MarkReadResponse reports how many messages were marked read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// SendMessage stores a message sent over HTTP. It is not relayed.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	from := strings.TrimSpace(req.From)
	to := strings.TrimSpace(req.To)
	if from == "" || to == "" || req.Message == "" {
		h.Error(w, http.StatusBadRequest, "from, to and message are required")
		return
	}
	if len(req.Message) > maxMessageLen {
		h.Error(w, http.StatusUnprocessableEntity, "message too long (max 4096 bytes)")
		return
	}

	msg, err := h.db.AppendMessage(r.Context(), from, to, req.Message)
	if err != nil {
		metrics.MessageStoreFailures.WithLabelValues("http").Inc()
		h.logger.Error().Err(err).Str("from", from).Str("to", to).Msg("append message")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	metrics.MessagesStored.WithLabelValues("http").Inc()
	h.JSON(w, http.StatusCreated, msg)
}

// GetMessages returns the conversation between two users, oldest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	from := chi.URLParam(r, "from")
	to := chi.URLParam(r, "to")

	msgs, err := h.db.Conversation(r.Context(), from, to)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, msgs)
}

// ClearMessages deletes the conversation between two users.
func (h *Handler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	other := chi.URLParam(r, "other")

	if err := h.db.ClearConversation(r.Context(), username, other); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to clear messages")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MessagedUsers lists everyone a user has exchanged messages with.
func (h *Handler) MessagedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.MessagedUsers(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch users")
		return
	}

	h.JSON(w, http.StatusOK, users)
}

// UnreadMessages returns a user's per-conversation unread summaries.
func (h *Handler) UnreadMessages(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.db.UnreadSummaries(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch unread messages")
		return
	}

	h.JSON(w, http.StatusOK, summaries)
}

// MarkRead marks as read everything to has sent from. The body names the
// reader as from.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		h.Error(w, http.StatusBadRequest, "from and to are required")
		return
	}

	n, err := h.db.MarkRead(r.Context(), req.From, req.To)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}

	h.JSON(w, http.StatusOK, MarkReadResponse{Updated: n})
}
