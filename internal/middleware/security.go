package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"idxwatch/internal/infrastructure"
)

// apiClientKey is the context key for the authenticated API client name
type apiClientKey struct{}

// APIKeyAuth provides API key authentication middleware
func APIKeyAuth(logger *slog.Logger, validKeys map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				apiKey = r.URL.Query().Get("api_key")
			}

			if apiKey == "" {
				logger.WarnContext(ctx, "missing API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)

				problem := ProblemFromStatus(
					http.StatusUnauthorized,
					"API key required",
					infrastructure.GetTraceID(ctx),
				)
				problem.Render(w, r)
				return
			}

			clientName, valid := validKeys[apiKey]
			if !valid {
				logger.WarnContext(ctx, "invalid API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)

				problem := ProblemFromStatus(
					http.StatusUnauthorized,
					"Invalid API key",
					infrastructure.GetTraceID(ctx),
				)
				problem.Render(w, r)
				return
			}

			ctx = context.WithValue(ctx, apiClientKey{}, clientName)

			logger.DebugContext(ctx, "API key authentication successful",
				"client", clientName,
				"method", r.Method,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIClientFromContext returns the authenticated API client name, if any.
func APIClientFromContext(ctx context.Context) string {
	if client, ok := ctx.Value(apiClientKey{}).(string); ok {
		return client
	}
	return ""
}

