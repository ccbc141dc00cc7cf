package report

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/matryer/is"
	"github.com/pkg/errors"
)

func TestLogger(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	l.Report(context.Background(), &Error{
		Title:   "Failed to load comments",
		Message: "Please refresh to try again",
		Err:     errors.New("connection refused"),
	})
	var rec map[string]any
	is.NoErr(json.Unmarshal(buf.Bytes(), &rec))
	is.Equal(rec["msg"], "Failed to load comments")
	is.Equal(rec["message"], "Please refresh to try again")
	is.Equal(rec["error"], "connection refused")
	is.Equal(rec["level"], "ERROR")
}

func TestError(t *testing.T) {
	is := is.New(t)
	inner := errors.New("boom")
	e := &Error{Title: "Failed to post comment", Err: inner}
	is.Equal(e.Error(), "Failed to post comment: boom")
	is.True(errors.Is(e, inner))
	is.Equal((&Error{Title: "t"}).Error(), "t")
}
