package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/headergate/internal/logging"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status    int
	bodyBytes int64
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bodyBytes += int64(n)
	return n, err
}

// Logging creates an access log middleware using the global logger.
func Logging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingResponseWriter{ResponseWriter: w}

			next.ServeHTTP(lw, r)

			if lw.status == 0 {
				lw.status = http.StatusOK
			}
			logging.Info("request",
				zap.String("request_id", GetRequestID(r)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lw.status),
				zap.Int64("body_bytes", lw.bodyBytes),
				zap.Duration("response_time", time.Since(start)),
			)
		})
	}
}
