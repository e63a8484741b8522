package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	OTPRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatline_otp_requested_total",
			Help: "Total OTP codes issued",
		},
	)

	OTPVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_otp_verifications_total",
			Help: "Total OTP verification attempts",
		},
		[]string{"result"}, // "ok", "invalid" or "throttled"
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_messages_stored_total",
			Help: "Total messages appended to the store",
		},
		[]string{"via"}, // "http" or "relay"
	)

	MessageStoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_message_store_failures_total",
			Help: "Total failed message appends",
		},
		[]string{"via"},
	)

	// Relay metrics
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatline_relay_connections",
			Help: "Open relay connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatline_online_users",
			Help: "Users with a live relay connection",
		},
	)

	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_relay_events_total",
			Help: "Inbound relay events by type",
		},
		[]string{"event"},
	)

	RelayDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_relay_dropped_total",
			Help: "Outbound relay events not delivered",
		},
		[]string{"reason"}, // "offline" or "buffer_full"
	)

	LastSeenUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatline_last_seen_update_failures_total",
			Help: "Failed asynchronous last-seen writes",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
