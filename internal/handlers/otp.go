package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatline/internal/crypto"
	"github.com/eldtechnologies/chatline/internal/metrics"
	"github.com/eldtechnologies/chatline/internal/store"
)

// otpAttemptWindow is how long failed verifications count against a contact.
const otpAttemptWindow = 15 * time.Minute

// OTPSender delivers a one-time code to a contact.
type OTPSender interface {
	SendOTP(ctx context.Context, contact, code string) error
}

// LogOTPSender writes codes to the log instead of delivering them. Used in
// development and wherever no mail or SMS gateway is configured.
type LogOTPSender struct {
	logger zerolog.Logger
}

// NewLogOTPSender creates a LogOTPSender.
func NewLogOTPSender(logger zerolog.Logger) *LogOTPSender {
	return &LogOTPSender{logger: logger.With().Str("component", "otp").Logger()}
}

func (s *LogOTPSender) SendOTP(_ context.Context, contact, code string) error {
	s.logger.Info().Str("contact", contact).Str("otp", code).Msg("OTP issued")
	return nil
}

// ContactRequest is a body carrying only a contact.
type ContactRequest struct {
	Contact string `json:"contact"`
}

// VerifyOTPRequest represents the OTP verification body.
type VerifyOTPRequest struct {
	Contact string `json:"contact"`
	OTP     string `json:"otp"`
}

// StatusResponse is a minimal acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// SendOTP creates a pending user for the contact and sends it a fresh code.
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !h.decode(w, r, &req) {
		return
	}

	contact := sanitizeName(req.Contact)
	if !isValidContact(contact) {
		h.Error(w, http.StatusBadRequest, "invalid contact")
		return
	}

	code, err := crypto.GenerateOTP()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate OTP")
		return
	}
	hash, err := crypto.HashOTP(code)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate OTP")
		return
	}

	if _, err := h.db.CreatePendingUser(r.Context(), contact, hash); err != nil {
		if errors.Is(err, store.ErrAlreadyRegistered) {
			h.Error(w, http.StatusConflict, "user already registered")
			return
		}
		h.logger.Error().Err(err).Msg("create pending user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := h.otp.SendOTP(r.Context(), contact, code); err != nil {
		h.logger.Error().Err(err).Str("contact", contact).Msg("send OTP")
		h.Error(w, http.StatusInternalServerError, "failed to send OTP")
		return
	}

	if h.redis != nil {
		if err := h.redis.ResetOTPAttempts(r.Context(), contact); err != nil {
			h.logger.Warn().Err(err).Msg("reset OTP attempts")
		}
	}

	metrics.OTPRequested.Inc()
	h.JSON(w, http.StatusOK, StatusResponse{Status: "OTP sent"})
}

// VerifyOTP checks a submitted code and marks the user verified.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	contact := sanitizeName(req.Contact)
	if contact == "" || req.OTP == "" {
		h.Error(w, http.StatusBadRequest, "contact and otp are required")
		return
	}

	ctx := r.Context()

	if h.redis != nil {
		allowed, err := h.redis.CheckOTPAttempts(ctx, contact, h.opts.OTPMaxAttempts)
		if err != nil {
			// Fail open, matching the rate limiter.
			h.logger.Warn().Err(err).Msg("check OTP attempts")
		} else if !allowed {
			metrics.OTPVerified.WithLabelValues("throttled").Inc()
			h.Error(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
	}

	user, err := h.db.GetUserByContact(ctx, contact)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	hash := ""
	if user != nil {
		hash = user.OTPHash
	}
	if err := crypto.VerifyOTP(hash, req.OTP); err != nil {
		metrics.OTPVerified.WithLabelValues("invalid").Inc()
		if h.redis != nil {
			if err := h.redis.IncrementOTPAttempts(ctx, contact, otpAttemptWindow); err != nil {
				h.logger.Warn().Err(err).Msg("increment OTP attempts")
			}
		}
		h.Error(w, http.StatusUnauthorized, "invalid OTP")
		return
	}

	if err := h.db.MarkVerified(ctx, user.ID.String()); err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if h.redis != nil {
		if err := h.redis.ResetOTPAttempts(ctx, contact); err != nil {
			h.logger.Warn().Err(err).Msg("reset OTP attempts")
		}
	}

	metrics.OTPVerified.WithLabelValues("ok").Inc()
	h.JSON(w, http.StatusOK, StatusResponse{Status: "verified"})
}
