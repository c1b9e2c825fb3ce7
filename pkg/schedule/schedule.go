// The cache clock is logical; a schedule maps it onto wall time by deciding when the next tick happens.
// Ticks either follow a fixed interval or a cron expression.

package schedule

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickInterval = flag.Duration("tick_interval", time.Minute, "Wall time between two cache clock ticks.")
	tickSchedule = flag.String("tick_schedule", "",
		"Cron expression for cache clock ticks; overrides --tick_interval when set.")

	scheduledTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickcache_scheduled_ticks_total",
		Help: "Total number of ticks fired by the schedule.",
	})
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickcache_tick_duration_seconds",
		Help:    "Wall time spent in a single scheduled tick.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

// ErrExhausted is returned by Run when the schedule has no future tick left.
var ErrExhausted = errors.New("schedule has no next tick")

// Schedule knows when the next tick should happen.
type Schedule interface {
	// Next returns the time of the first tick after `now`, or the zero time when there is none.
	Next(now time.Time) time.Time
	String() string
}

type intervalSchedule struct{ interval time.Duration }

func (s intervalSchedule) Next(now time.Time) time.Time { return now.Add(s.interval) }

func (s intervalSchedule) String() string { return "every " + s.interval.String() }

type cronSchedule struct {
	expr     string
	cronExpr *cronexpr.Expression
}

func (s cronSchedule) Next(now time.Time) time.Time { return s.cronExpr.Next(now) }

func (s cronSchedule) String() string { return s.expr }

// Parse returns the cron schedule for `expr`, or a fixed `interval` schedule when `expr` is empty.
func Parse(expr string, interval time.Duration) (Schedule, error) {
	if expr != "" {
		cronExpr, err := cronexpr.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid tick schedule %q: %w", expr, err)
		}
		return cronSchedule{expr: expr, cronExpr: cronExpr}, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", interval)
	}
	return intervalSchedule{interval: interval}, nil
}

// FromFlags builds the schedule configured by --tick_schedule and --tick_interval.
func FromFlags() (Schedule, error) {
	return Parse(*tickSchedule, *tickInterval)
}

// Run calls `tick` whenever `sched` fires until `ctx` is done. Ticks never overlap; the next tick is computed after the
// previous one returns.
func Run(ctx context.Context, sched Schedule, tick func(ctx context.Context)) error {
	slog.Info("Starting cache clock.", "schedule", sched.String())
	for {
		if ctx.Err() != nil {
			slog.Info("Stopping cache clock.", "reason", context.Cause(ctx))
			return nil
		}
		now := time.Now()
		next := sched.Next(now)
		if next.IsZero() {
			return ErrExhausted
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
			start := time.Now()
			tick(ctx)
			scheduledTicks.Inc()
			tickDuration.Observe(time.Since(start).Seconds())
		}
	}
}
