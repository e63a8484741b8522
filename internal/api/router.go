package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatline/internal/api/middleware"
	"github.com/eldtechnologies/chatline/internal/config"
	"github.com/eldtechnologies/chatline/internal/handlers"
	"github.com/eldtechnologies/chatline/internal/relay"
	"github.com/eldtechnologies/chatline/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil, in
// which case rate limiting and OTP attempt limits are disabled.
func NewRouter(logger zerolog.Logger, cfg *config.Config, db store.DataStore, redisStore *store.RedisStore, hub *relay.Hub, otp handlers.OTPSender) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	} else {
		logger.Warn().Msg("redis not configured, rate limiting disabled")
	}

	// CORS - allow all origins (mobile and web clients)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, hub.Tracker(), otp, logger, handlers.Options{
		OTPMaxAttempts: cfg.OTPMaxAttempts,
	})

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Registration
	r.Post("/otp/send", h.SendOTP)
	r.Post("/otp/verify", h.VerifyOTP)
	r.Post("/contacts/check", h.CheckContact)
	r.Post("/contacts/exists", h.ContactExists)
	r.Post("/usernames", h.SetUsername)
	r.Post("/usernames/check", h.UsernameExists)

	// Directory
	r.Post("/users/search", h.SearchUsers)
	r.Post("/users/last-seen", h.UpdateLastSeen)
	r.Get("/users/{username}/status", h.UserStatus)
	r.Get("/users/{username}/partners", h.MessagedUsers)
	r.Get("/users/{username}/unread", h.UnreadMessages)

	// Messages
	r.Post("/messages", h.SendMessage)
	r.Post("/messages/read", h.MarkRead)
	r.Post("/messages/reset-unread", h.MarkRead)
	r.Get("/messages/{from}/{to}", h.GetMessages)
	r.Delete("/messages/{username}/{other}", h.ClearMessages)

	r.Post("/notifications/prepare", h.PrepareNotification)

	// Real-time relay
	r.Get("/ws", hub.ServeWS)

	return r
}
