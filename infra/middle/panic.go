package middle

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/infra/response"
)

// PanicRecoveryMiddleware converts panics on client-facing routes into a
// structured 500 response. Gateway-facing handlers install their own
// recovery so the protocol body contract (HTTP 200 + negative error code)
// is preserved.
func PanicRecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", fmt.Errorf("%v", rec), logger.LogContext{
						Fields: map[string]any{
							"method": r.Method,
							"url":    r.URL.String(),
							"stack":  string(debug.Stack()),
						},
					})
					response.Error(w, http.StatusInternalServerError, "Internal server error", fmt.Errorf("an unexpected error occurred"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
