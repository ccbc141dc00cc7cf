package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestRequestLogger(t *testing.T) {
	is := is.New(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewRequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "short and stout")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v3/comment/list?post_id=1&auth=secret", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusTeapot)
	is.Equal(rec.Body.String(), "short and stout")
	out := logs.String()
	is.True(strings.Contains(out, "starting request"))
	is.True(strings.Contains(out, "finished request"))
	is.True(strings.Contains(out, "status=418"))
	is.True(strings.Contains(out, "bytes=15"))
	is.True(strings.Contains(out, "post_id=1"))
	is.True(!strings.Contains(out, "secret"))
}
