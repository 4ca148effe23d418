package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/metrics"
)

type dueFirer interface {
	DueSchedulers(ctx context.Context, now time.Time) ([]string, error)
	FireScheduler(ctx context.Context, key string, now time.Time) error
}

// Runner polls for recurring-job definitions that are due and turns each into
// a pending job instance.
type Runner struct {
	backend  dueFirer
	log      zerolog.Logger
	m        *metrics.Metrics
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewRunner(backend dueFirer, logger zerolog.Logger, m *metrics.Metrics, interval time.Duration) *Runner {
	logger = logger.With().Str("component", "QueueRunner").Logger()
	return &Runner{
		backend:  backend,
		log:      logger,
		m:        m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.log.Info().Dur("interval", r.interval).Msg("queue runner started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunDue(ctx, time.Now())
			}
		}
	}()
}

// Stop cancels the loop and waits for the current pass to finish.
func (r *Runner) Stop() {
	r.cancel()
	<-r.done
	r.log.Info().Msg("queue runner stopped")
}

// RunDue fires every scheduler whose next run is at or before now.
func (r *Runner) RunDue(ctx context.Context, now time.Time) {
	start := time.Now()
	r.m.QueueRuns.Inc()

	keys, err := r.backend.DueSchedulers(ctx, now)
	if err != nil {
		r.log.Error().Err(err).Msg("error fetching due schedulers")
		r.m.TechnicalErrors.WithLabelValues("fetch_due_schedulers", "critical").Inc()
		return
	}

	for _, key := range keys {
		if err := r.backend.FireScheduler(ctx, key, now); err != nil {
			r.log.Error().Err(err).Str("key", key).Msg("error firing scheduler")
			r.m.TechnicalErrors.WithLabelValues("fire_scheduler", "critical").Inc()
			continue
		}
		r.m.JobsFired.Inc()
	}

	dur := time.Since(start)
	r.m.QueueRunDuration.Observe(dur.Seconds())
	r.log.Debug().Int("fired", len(keys)).Dur("duration", dur).Msg("completed due-scheduler pass")
}
