package handlers

import (
	"net/http"
)

// NotifyRequest represents the notification preparation body.
type NotifyRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// PushPayload is handed back to the caller for delivery through its push
// provider. The server never sends it.
type PushPayload struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotifyResponse wraps a prepared push payload.
type NotifyResponse struct {
	Payload PushPayload `json:"payload"`
}

// PrepareNotification builds a push payload for the receiver's device token.
// The payload title carries the sender's message and its body the request
// title. Tokens are provisioned outside this API; a receiver without one gets
// a 404.
func (h *Handler) PrepareNotification(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Sender == "" || req.Receiver == "" {
		h.Error(w, http.StatusBadRequest, "sender and receiver are required")
		return
	}

	token, err := h.db.PushToken(r.Context(), req.Receiver)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if token == "" {
		h.Error(w, http.StatusNotFound, "receiver not found or no push token")
		return
	}

	h.JSON(w, http.StatusOK, NotifyResponse{Payload: PushPayload{
		Token: token,
		Title: req.Sender + " says: " + req.Body,
		Body:  req.Title,
	}})
}
