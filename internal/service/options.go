package service

import (
	"log/slog"
	"time"

	"github.com/mmynk/pointsledger/internal/metrics"
)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// Option configures a service.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source for created_at and paid_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
