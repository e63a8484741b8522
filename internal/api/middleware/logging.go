package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog.
//
// Relay upgrades hijack the connection before any status is written, so they
// are logged at debug as "websocket upgraded" with status 101. Server errors
// log at error, client errors at warn.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			upgrade := websocket.IsWebSocketUpgrade(r)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				msg := "request completed"
				if upgrade && status == 0 {
					status = http.StatusSwitchingProtocols
					msg = "websocket upgraded"
				}

				logger.WithLevel(requestLevel(status)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg(msg)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func requestLevel(status int) zerolog.Level {
	switch {
	case status == http.StatusSwitchingProtocols:
		return zerolog.DebugLevel
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
