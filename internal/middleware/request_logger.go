package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NewRequestLogger logs the start and end of every request. The auth query
// parameter and credential headers are left out of the logs.
func NewRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", redactQuery(r)),
				slog.String("remote", r.RemoteAddr),
			}
			logger.DebugContext(ctx, "starting request", append(args, headerGroup(r.Header))...)
			sw := StatusWriter{w: w, Status: http.StatusOK}
			next.ServeHTTP(&sw, r)
			args = append(args,
				slog.Int("status", sw.Status),
				slog.Int("bytes", sw.Written),
				slog.Duration("elapsed", time.Since(start)))
			level := slog.LevelInfo
			if sw.Status >= 500 {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "finished request", args...)
		})
	}
}

// StatusWriter records the status code and body size of a response.
type StatusWriter struct {
	w       http.ResponseWriter
	Status  int
	Written int
}

func (sw *StatusWriter) WriteHeader(status int) {
	sw.Status = status
	sw.w.WriteHeader(status)
}

func (sw *StatusWriter) Header() http.Header { return sw.w.Header() }

func (sw *StatusWriter) Write(b []byte) (int, error) {
	n, err := sw.w.Write(b)
	sw.Written += n
	return n, err
}

func redactQuery(r *http.Request) string {
	q := r.URL.Query()
	if q.Has("auth") {
		q.Set("auth", "xxxxx")
	}
	return q.Encode()
}

func headerGroup(header http.Header) slog.Attr {
	args := make([]any, 0, len(header))
	for k, v := range header {
		switch strings.ToLower(k) {
		case "authorization", "cookie":
			continue
		}
		args = append(args, slog.String(k, strings.Join(v, ",")))
	}
	return slog.Group("headers", args...)
}
