package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs every request hitting the upgrade endpoint before the
// auth and limiter stages get to veto it.
func NewRequestLogger(logger *slog.Logger) Middleware {
	requestLogger := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			}
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				attrs = append(attrs, slog.String("ip", reqMeta.IP))
			}
			requestLogger.Info("incoming request", attrs...)
			next.ServeHTTP(w, r)
		})
	}
}
