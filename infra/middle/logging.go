package middle

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/infra/opensearch"
)

// bodyCapturingWriter records the response body so callback exchanges can be
// audited after the handler has written its protocol response.
type bodyCapturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *bodyCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *bodyCapturingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

// CallbackLoggingMiddleware ships every gateway callback exchange to the
// audit index. gateway names the index; failures only log a warning, the
// callback response itself is never affected.
func CallbackLoggingMiddleware(osLogger *opensearch.Logger, gateway string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if osLogger == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			var reqBody []byte
			if r.Body != nil {
				reqBody, _ = io.ReadAll(io.LimitReader(r.Body, 64<<10))
				r.Body = io.NopCloser(bytes.NewReader(reqBody))
			}

			cw := &bodyCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			entry := opensearch.CallbackLog{
				Timestamp:        start.UTC(),
				Gateway:          gateway,
				Endpoint:         r.URL.Path,
				RequestID:        middleware.GetReqID(r.Context()),
				ClientIP:         GetClientIP(r),
				RequestBody:      string(reqBody),
				ResponseBody:     cw.body.String(),
				ProcessingTimeMs: time.Since(start).Milliseconds(),
			}

			go func() {
				shipCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := osLogger.LogCallback(shipCtx, entry); err != nil {
					logger.Warn("failed to ship callback audit log", logger.LogContext{
						Gateway: gateway,
						Fields:  map[string]any{"error": err.Error()},
					})
				}
			}()
		})
	}
}
