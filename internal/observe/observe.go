// Package observe is the sink for failures that must never reach the
// shopper: merge, handoff and clear confirmation errors.
package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"storefront-cart/internal/model"
)

// Reporter receives background failures.
type Reporter interface {
	Report(ctx context.Context, op string, err error, attrs ...slog.Attr)
}

// LogReporter writes failures to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a Reporter backed by logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("op", op),
		slog.String("kind", model.Classify(err).String()),
		slog.String("error", err.Error()),
	}, attrs...)
	r.logger.LogAttrs(ctx, slog.LevelError, "background cart operation failed", all...)
}

// SentryReporter sends failures to Sentry and forwards them to next.
type SentryReporter struct {
	hub  *sentry.Hub
	next Reporter
}

// NewSentryReporter creates a reporter with its own Sentry client, so
// tests and multiple engines never share the global hub.
func NewSentryReporter(opts sentry.ClientOptions, next Reporter) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &SentryReporter{
		hub:  sentry.NewHub(client, sentry.NewScope()),
		next: next,
	}, nil
}

func (r *SentryReporter) Report(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("op", op)
		scope.SetTag("kind", model.Classify(err).String())
		for _, a := range attrs {
			scope.SetExtra(a.Key, a.Value.String())
		}
		r.hub.CaptureException(err)
	})
	if r.next != nil {
		r.next.Report(ctx, op, err, attrs...)
	}
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(context.Context, string, error, ...slog.Attr) {}
