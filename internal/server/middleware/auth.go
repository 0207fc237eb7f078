package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sameer2210/CodeX-sub000/pkg/auth"
)

// NewAuthMiddleware gates the upgrade endpoint behind credential
// verification. The bearer token arrives in the Authorization header or, for
// browser WebSocket clients that cannot set headers, a "token" query
// parameter. Absent or invalid credentials fail the connection attempt with
// 401 before any upgrade happens.
func NewAuthMiddleware(logger *slog.Logger, verifier auth.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := bearerToken(r)
			if tokenString == "" {
				logger.Warn("Connection attempt without credential", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(tokenString)
			if err != nil {
				logger.Warn("Invalid credential presented",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.Identity = identity
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
