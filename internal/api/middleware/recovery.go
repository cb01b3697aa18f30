package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/bugnest/internal/api/response"
)

// Recovery turns a handler panic into a 500 and logs it with the matched
// route and, once authenticated, the project.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, info := withRequestInfo(r.Context())
		r = r.WithContext(ctx)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			attrs := []any{
				"error", rec,
				"method", r.Method,
				"route", routePattern(r),
				"path", r.URL.Path,
			}
			if info.projectID != 0 {
				attrs = append(attrs, "project_id", info.projectID)
			}
			attrs = append(attrs, "stack", string(debug.Stack()))
			slog.Error("panic recovered", attrs...)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
