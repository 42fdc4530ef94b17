package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/payment"
)

// Option configures an Engine or a Service.
type Option func(*options)

type options struct {
	clock    clock.Clock
	cfg      Config
	log      *slog.Logger
	payments *payment.Registry
	locker   Locker
	lockTTL  time.Duration
	lookup   SubscriberLookup
}

func defaultOptions() options {
	return options{
		clock:   clock.Real{},
		cfg:     DefaultConfig(),
		log:     slog.Default(),
		locker:  noopLocker{},
		lockTTL: 30 * time.Second,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.payments == nil {
		o.payments = payment.NewRegistry()
	}
	return o
}

// WithClock sets the time source. Tests pass a *clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithConfig sets the main tag, fallback plan and default payment method.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg.withDefaults()
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPayments sets the registry used to charge renewals.
// Without it only the free method is available.
func WithPayments(r *payment.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.payments = r
		}
	}
}

// WithLocker serializes operations on the same subscription across processes.
// The store transaction remains the source of consistency; the lock only
// keeps competing workers from wasting a transaction.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(o *options) {
		if l != nil {
			o.locker = l
		}
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithSubscriberLookup registers how subscriber references are resolved to
// the caller's own entities.
func WithSubscriberLookup(fn SubscriberLookup) Option {
	return func(o *options) {
		if fn != nil {
			o.lookup = fn
		}
	}
}
