package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatline/internal/models"
	"github.com/eldtechnologies/chatline/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// usernameRegex allows letters, digits, dot, dash and underscore.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._\-]{3,32}$`)

// maxMessageLen caps a stored message body.
const maxMessageLen = 4096

// PresenceReader reports the live presence of a user.
type PresenceReader interface {
	Status(username string) models.Presence
}

// Options tunes handler behaviour.
type Options struct {
	// OTPMaxAttempts is the number of failed verifications allowed per
	// contact before further attempts are refused. Only enforced with Redis.
	OTPMaxAttempts int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	presence PresenceReader
	otp      OTPSender
	logger   zerolog.Logger
	opts     Options
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(db store.DataStore, redis *store.RedisStore, presence PresenceReader, otp OTPSender, logger zerolog.Logger, opts Options) *Handler {
	if opts.OTPMaxAttempts <= 0 {
		opts.OTPMaxAttempts = 5
	}
	return &Handler{
		db:       db,
		redis:    redis,
		presence: presence,
		otp:      otp,
		logger:   logger,
		opts:     opts,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, replying 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// isValidContact accepts an email address or a phone-like string of digits.
func isValidContact(contact string) bool {
	if contact == "" || len(contact) > 254 {
		return false
	}
	if strings.Contains(contact, "@") {
		return isValidEmail(contact)
	}
	digits := 0
	for _, r := range contact {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 6
}

func isValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}
