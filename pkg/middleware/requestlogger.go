package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/logger"
)

// RequestLogger returns middleware that builds a request-scoped logger enriched
// with correlation_id, user_id, trace_id and span_id, then stores it in context
// via logger.NewContext. Handlers retrieve it with logger.FromContext(ctx).
//
// Mount it after RequestLogging, Tracing and Session.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if s := SessionFromContext(ctx); s.Authenticated() {
				ctx = logger.WithUserID(ctx, s.UserID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
