package httpcache

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxLoggedBody caps how much of a response body is logged.
const maxLoggedBody = 2048

// Debugger logs every request and response passing through it.
type Debugger struct {
	RoundTripper http.RoundTripper
	Logger       *slog.Logger
}

func (d *Debugger) RoundTrip(r *http.Request) (*http.Response, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := d.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport
	}
	logger.Debug("http request",
		"method", r.Method,
		"url", redactURL(r),
		headerGroup(r.Header))
	start := time.Now()
	res, err := rt.RoundTrip(r)
	if err != nil {
		logger.Debug("http request failed", "url", redactURL(r), "error", err)
		return res, err
	}
	var buf bytes.Buffer
	_, err = io.Copy(&buf, res.Body)
	res.Body.Close()
	if err != nil {
		return res, err
	}
	body := buf.Bytes()
	res.Body = io.NopCloser(&buf)
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody]
	}
	logger.Debug("http response",
		"status", res.Status,
		"url", redactURL(r),
		"len", res.ContentLength,
		"elapsed", time.Since(start),
		"body", string(body),
		headerGroup(res.Header))
	return res, nil
}

// redactURL hides the auth query parameter lemmy accepts on GET requests.
func redactURL(r *http.Request) string {
	q := r.URL.Query()
	if !q.Has("auth") {
		return r.URL.Redacted()
	}
	u := *r.URL
	q.Set("auth", "xxxxx")
	u.RawQuery = q.Encode()
	return u.Redacted()
}

func headerGroup(header http.Header) slog.Attr {
	args := make([]any, 0, len(header))
	for k, v := range header {
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			continue
		}
		args = append(args, slog.String(k, strings.Join(v, ",")))
	}
	return slog.Group("headers", args...)
}
