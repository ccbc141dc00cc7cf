// Package report surfaces failures to whatever is presenting them to the
// user.
package report

import (
	"context"
	"fmt"
	"log/slog"
)

// Error is a failure described for a person rather than a program.
type Error struct {
	Title   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Title, e.Err)
	}
	return e.Title
}

func (e *Error) Unwrap() error { return e.Err }

// Reporter receives failures. Reporting is fire-and-forget.
type Reporter interface {
	Report(ctx context.Context, e *Error)
}

type Func func(ctx context.Context, e *Error)

func (fn Func) Report(ctx context.Context, e *Error) { fn(ctx, e) }

// Logger reports failures as log records.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l}
}

func (l *Logger) Report(ctx context.Context, e *Error) {
	l.logger.ErrorContext(ctx, e.Title,
		slog.String("message", e.Message),
		slog.Any("error", e.Err))
}

// Discard drops every report.
var Discard Reporter = Func(func(context.Context, *Error) {})
