package middleware

import (
	"log/slog"
	"net/http"

	"github.com/sameer2210/CodeX-sub000/pkg/config"
)

type IdentityConnectionCounter func(team, username string) int
type IdentityConnectionCycler func(team, username string)

// NewConnectionLimiter optionally caps connections per identity. With the
// default limit of zero it passes everything through, preserving the
// "latest session wins" duplicate-login behavior. **Must run after the auth
// middleware.**
func NewConnectionLimiter(
	logger *slog.Logger,
	counter IdentityConnectionCounter,
	cycler IdentityConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerIdentity <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok || reqMeta.Identity.Username == "" {
				logger.Error("Connection limiter ran without an authenticated identity. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			id := reqMeta.Identity
			count := counter(id.Team, id.Username)
			if count < cfg.MaxPerIdentity {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Identity connection limit reached",
				slog.String("team", id.Team),
				slog.String("username", id.Username),
				slog.Int("count", count),
			)
			switch cfg.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				cycler(id.Team, id.Username)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
