package pagecache

import (
	"log/slog"

	"github.com/hupe1980/pagecache/resource"
)

type options struct {
	logger  *slog.Logger
	metrics MetricsObserver
	rc      *resource.Controller
}

func defaultOptions() options {
	return options{
		logger:  slog.New(slog.DiscardHandler),
		metrics: NoopMetricsObserver{},
	}
}

// Option customizes router construction.
type Option func(*options)

// WithLogger sets the structured logger used by the router and its shards.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics observer.
func WithMetrics(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithResourceController attaches a resource controller. Frame memory is
// accounted against it and recovery work is bounded by its background slots.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}
