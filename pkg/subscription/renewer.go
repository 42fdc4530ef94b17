package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/dmitrymomot/subkit/pkg/logger"
)

// RenewerConfig holds the settings of the background renewal sweep.
type RenewerConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration `env:"RENEWER_INTERVAL" envDefault:"1m"`
	// Lookahead renews periods that end within this window from now.
	Lookahead time.Duration `env:"RENEWER_LOOKAHEAD" envDefault:"0s"`
	// BatchSize caps the subscriptions picked up by one sweep.
	BatchSize int `env:"RENEWER_BATCH_SIZE" envDefault:"500"`
	// Concurrency caps the renewals running at once.
	Concurrency int `env:"RENEWER_CONCURRENCY" envDefault:"8"`
}

// SweepReport counts the outcome of one sweep.
type SweepReport struct {
	Found   int
	Renewed int
	Failed  int
}

// Renewer renews every uncanceled subscription whose period has ended,
// one period at a time, through a Service.
type Renewer struct {
	svc *Service
	cfg RenewerConfig
	log *slog.Logger
}

// NewRenewer creates a Renewer.
// Panics if svc is nil.
func NewRenewer(svc *Service, cfg RenewerConfig) *Renewer {
	if svc == nil {
		panic("subscription: Service is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Renewer{
		svc: svc,
		cfg: cfg,
		log: svc.log.With(logger.Component("renewer")),
	}
}

// Sweep renews the due subscriptions once. A failed renewal is logged and
// counted; it does not stop the others. Only a failed lookup is returned.
func (r *Renewer) Sweep(ctx context.Context) (SweepReport, error) {
	now := r.svc.opts.clock.Now()
	q := EndedPeriod(now.Add(r.cfg.Lookahead)).ExcludeCanceled().WithLimit(r.cfg.BatchSize)

	due, err := r.svc.Subscriptions(ctx, q)
	if err != nil {
		return SweepReport{}, err
	}

	var renewed, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(r.cfg.Concurrency)
	for _, sub := range due {
		p.Go(func() {
			if _, err := r.svc.Renew(ctx, sub.Subscriber, sub.Tag, 1); err != nil {
				failed.Add(1)
				level := slog.LevelError
				if errors.Is(err, ErrChargeFailed) || errors.Is(err, ErrInvalidState) {
					level = slog.LevelWarn
				}
				r.log.Log(ctx, level, "renewal failed",
					logger.SubscriptionID(sub.ID),
					logger.Subscriber(sub.Subscriber),
					logger.SubscriptionTag(sub.Tag),
					logger.Error(err),
				)
				return
			}
			renewed.Add(1)
		})
	}
	p.Wait()

	report := SweepReport{Found: len(due), Renewed: int(renewed.Load()), Failed: int(failed.Load())}
	if report.Found > 0 {
		r.log.InfoContext(ctx, "renewal sweep finished",
			slog.Int("found", report.Found),
			slog.Int("renewed", report.Renewed),
			slog.Int("failed", report.Failed),
			logger.Duration(r.svc.opts.clock.Now().Sub(now)),
		)
	}
	return report, nil
}

// Run sweeps immediately and then every Interval until ctx is done.
func (r *Renewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.ErrorContext(ctx, "renewal sweep failed", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
