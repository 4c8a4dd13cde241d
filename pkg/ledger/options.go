package ledger

import (
	"time"

	"github.com/jdziat/simple-process-tracking/pkg/config"
	"github.com/jdziat/simple-process-tracking/pkg/logging"
	"github.com/jdziat/simple-process-tracking/pkg/metrics"
	"github.com/jdziat/simple-process-tracking/pkg/notify"
	"github.com/jdziat/simple-process-tracking/pkg/security"
	"github.com/jdziat/simple-process-tracking/pkg/sequence"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Options holds the ledger configuration. It is fixed at construction.
type Options struct {
	MaxRework    int
	SerialPrefix string
	Serializable bool
	Retry        RetryConfig
	Logger       *logging.Logger
	Metrics      metrics.Hooks
	Sink         notify.Sink
	Dispatcher   *notify.Dispatcher
	Clock        func() time.Time
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		MaxRework: sequence.DefaultMaxRework,
		Retry:     DefaultRetryConfig(),
		Clock:     storage.Now,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// MaxRework sets the rework budget of serialized items.
// Values are clamped to [0, security.MaxReworkLimit].
func MaxRework(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxRework = security.ClampRework(n)
	})
}

// SerialPrefix sets the prefix of generated serial numbers.
func SerialPrefix(prefix string) Option {
	return optionFunc(func(o *Options) {
		o.SerialPrefix = prefix
	})
}

// Serializable runs ledger transactions at SERIALIZABLE isolation on PostgreSQL.
func Serializable(on bool) Option {
	return optionFunc(func(o *Options) {
		o.Serializable = on
	})
}

// Retry sets the transient-failure retry policy.
func Retry(cfg RetryConfig) Option {
	return optionFunc(func(o *Options) {
		o.Retry = cfg
	})
}

// NoRetry disables retries.
func NoRetry() Option {
	return optionFunc(func(o *Options) {
		o.Retry.MaxAttempts = 1
	})
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return optionFunc(func(o *Options) {
		o.Logger = l
	})
}

// WithMetrics sets the metrics hooks.
func WithMetrics(h metrics.Hooks) Option {
	return optionFunc(func(o *Options) {
		o.Metrics = h
	})
}

// WithSink delivers events to sink through a dispatcher owned by the ledger.
func WithSink(sink notify.Sink) Option {
	return optionFunc(func(o *Options) {
		o.Sink = sink
	})
}

// WithDispatcher delivers events through d. It takes precedence over WithSink.
func WithDispatcher(d *notify.Dispatcher) Option {
	return optionFunc(func(o *Options) {
		o.Dispatcher = d
	})
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *Options) {
		o.Clock = now
	})
}

// FromConfig maps the ledger section of a loaded configuration to options.
func FromConfig(c config.LedgerConfig) []Option {
	retry := DefaultRetryConfig()
	retry.MaxAttempts = c.RetryAttempts
	if c.RetryInitialBackoff > 0 {
		retry.InitialBackoff = c.RetryInitialBackoff
	}
	if c.RetryMaxBackoff > 0 {
		retry.MaxBackoff = c.RetryMaxBackoff
	}
	return []Option{
		MaxRework(c.MaxRework),
		SerialPrefix(c.SerialPrefix),
		Serializable(c.Serializable),
		Retry(retry),
	}
}
