package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/metrics"
)

// Handler consumes fired job instances. Delivery is at-least-once, so the
// handler must tolerate duplicates.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type jobPopper interface {
	PopJob(ctx context.Context, timeout time.Duration) (Job, bool, error)
	RequeueJob(ctx context.Context, job Job) error
}

// Worker pops pending job instances and hands them to the Handler. A failed
// job goes back on the queue.
type Worker struct {
	backend    jobPopper
	handler    Handler
	log        zerolog.Logger
	m          *metrics.Metrics
	popTimeout time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewWorker(
	backend jobPopper,
	handler Handler,
	logger zerolog.Logger,
	m *metrics.Metrics,
	popTimeout time.Duration,
) *Worker {
	logger = logger.With().Str("component", "QueueWorker").Logger()
	return &Worker{
		backend:    backend,
		handler:    handler,
		log:        logger,
		m:          m,
		popTimeout: popTimeout,
		done:       make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go func() {
		defer close(w.done)
		w.log.Info().Msg("queue worker started")
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			w.ProcessOne(ctx)
		}
	}()
}

func (w *Worker) Stop() {
	w.cancel()
	<-w.done
	w.log.Info().Msg("queue worker stopped")
}

// ProcessOne waits for one pending job and delivers it.
func (w *Worker) ProcessOne(ctx context.Context) {
	job, ok, err := w.backend.PopJob(ctx, w.popTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.log.Error().Err(err).Msg("error popping job")
		w.m.TechnicalErrors.WithLabelValues("pop_job", "critical").Inc()
		// back off briefly so a dead backend does not spin the loop
		select {
		case <-ctx.Done():
		case <-time.After(w.popTimeout):
		}
		return
	}
	if !ok {
		return
	}

	if err := w.handler.Handle(ctx, job); err != nil {
		w.log.Error().Err(err).
			Str("scheduler_key", job.SchedulerKey).
			Str("city", job.Data.City).
			Msg("job handler failed, requeueing")
		w.m.JobsProcessed.WithLabelValues("error").Inc()

		if err := w.backend.RequeueJob(ctx, job); err != nil {
			w.log.Error().Err(err).
				Str("scheduler_key", job.SchedulerKey).
				Msg("failed to requeue job")
			w.m.TechnicalErrors.WithLabelValues("requeue_job", "critical").Inc()
		}
		return
	}

	w.m.JobsProcessed.WithLabelValues("success").Inc()
	w.log.Info().
		Str("scheduler_key", job.SchedulerKey).
		Str("city", job.Data.City).
		Str("recipient", job.Data.RecipientEmail).
		Msg("job processed")
}
