package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/metrics"
	"github.com/oleksandr-h/weather-agent/internal/models"
	"github.com/oleksandr-h/weather-agent/internal/queue"
)

// DefaultCronPattern fires once a day at 17:00 UTC.
const DefaultCronPattern = "0 17 * * *"

type queueBackend interface {
	UpsertScheduler(ctx context.Context, key, pattern string, payload models.WeatherEmailJob) (string, error)
	RemoveScheduler(ctx context.Context, key string) (bool, error)
	ListSchedulers(ctx context.Context) ([]queue.SchedulerInfo, error)
	DrainPending(ctx context.Context) error
}

// TeardownResult reports what a bulk unschedule managed to do.
type TeardownResult struct {
	RemovedCount int
	Drained      bool
}

// Adapter maps domain subscriptions onto recurring-job definitions in the
// queue backend.
type Adapter struct {
	backend        queueBackend
	log            zerolog.Logger
	m              *metrics.Metrics
	defaultPattern string
}

func NewAdapter(
	backend queueBackend,
	logger zerolog.Logger,
	m *metrics.Metrics,
	defaultPattern string,
) *Adapter {
	logger = logger.With().Str("component", "SchedulerAdapter").Logger()
	if defaultPattern == "" {
		defaultPattern = DefaultCronPattern
	}
	return &Adapter{backend: backend, log: logger, m: m, defaultPattern: defaultPattern}
}

// Schedule registers the recurring weather email under schedulerID. The id
// must be stable across retries (derived from the subscription id, never from
// wall-clock time) so re-scheduling stays idempotent. After a nil return,
// exactly one definition exists under that key with the given pattern and
// payload.
func (a *Adapter) Schedule(
	ctx context.Context,
	city, recipientEmail, cronPattern, schedulerID string,
) (string, error) {
	if city == "" {
		return "", fmt.Errorf("%w: city is required", models.ErrValidation)
	}
	if recipientEmail == "" {
		return "", fmt.Errorf("%w: recipient email is required", models.ErrValidation)
	}
	if schedulerID == "" {
		return "", fmt.Errorf("%w: scheduler id is required", models.ErrValidation)
	}
	if cronPattern == "" {
		cronPattern = a.defaultPattern
	}

	payload := models.WeatherEmailJob{City: city, RecipientEmail: recipientEmail}
	key, err := a.backend.UpsertScheduler(ctx, schedulerID, cronPattern, payload)
	if err != nil {
		a.m.SchedulerOps.WithLabelValues("schedule", "error").Inc()
		a.log.Error().Err(err).
			Str("scheduler_key", schedulerID).
			Str("city", city).
			Msg("failed to schedule weather email")
		if errors.Is(err, models.ErrBackendUnavailable) || errors.Is(err, models.ErrValidation) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", models.ErrSchedulingFailed, err)
	}

	a.m.SchedulerOps.WithLabelValues("schedule", "success").Inc()
	a.log.Info().
		Str("scheduler_key", key).
		Str("city", city).
		Str("pattern", cronPattern).
		Msg("weather email scheduled")
	return key, nil
}

// Unschedule removes the recurring job. A missing key is not an error and
// reports false.
func (a *Adapter) Unschedule(ctx context.Context, schedulerID string) (bool, error) {
	removed, err := a.backend.RemoveScheduler(ctx, schedulerID)
	if err != nil {
		a.m.SchedulerOps.WithLabelValues("unschedule", "error").Inc()
		a.log.Error().Err(err).
			Str("scheduler_key", schedulerID).
			Msg("failed to unschedule weather email")
		if errors.Is(err, models.ErrBackendUnavailable) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", models.ErrSchedulingFailed, err)
	}

	a.m.SchedulerOps.WithLabelValues("unschedule", "success").Inc()
	if removed {
		a.log.Info().Str("scheduler_key", schedulerID).Msg("scheduled job removed")
	} else {
		a.log.Warn().Str("scheduler_key", schedulerID).Msg("no scheduled job found for key")
	}
	return removed, nil
}

// ListScheduled enumerates every recurring-job definition.
func (a *Adapter) ListScheduled(ctx context.Context) ([]queue.SchedulerInfo, error) {
	infos, err := a.backend.ListSchedulers(ctx)
	if err != nil {
		a.m.SchedulerOps.WithLabelValues("list", "error").Inc()
		if errors.Is(err, models.ErrBackendUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrSchedulingFailed, err)
	}

	for _, info := range infos {
		a.log.Debug().
			Str("scheduler_key", info.Key).
			Str("pattern", info.Pattern).
			Msg("scheduled job")
	}
	return infos, nil
}

// UnscheduleAll removes every recurring-job definition best-effort, counting
// only confirmed removals, then drains pending job instances. It is a
// maintenance operation, not part of a single subscription's lifecycle, and is
// safe to re-run: remaining removals are idempotent no-ops.
func (a *Adapter) UnscheduleAll(ctx context.Context) (TeardownResult, error) {
	infos, err := a.backend.ListSchedulers(ctx)
	if err != nil {
		a.m.SchedulerOps.WithLabelValues("unschedule_all", "error").Inc()
		return TeardownResult{}, fmt.Errorf("%w: %w", models.ErrSchedulingFailed, err)
	}

	result := TeardownResult{}
	for _, info := range infos {
		if info.Key == "" {
			continue
		}
		removed, err := a.backend.RemoveScheduler(ctx, info.Key)
		if err != nil {
			a.log.Error().Err(err).
				Str("scheduler_key", info.Key).
				Msg("failed to remove scheduler during teardown, continuing")
			continue
		}
		if removed {
			result.RemovedCount++
			a.log.Info().Str("scheduler_key", info.Key).Msg("removed scheduler")
		}
	}

	if err := a.backend.DrainPending(ctx); err != nil {
		a.m.SchedulerOps.WithLabelValues("unschedule_all", "error").Inc()
		a.log.Error().Err(err).Msg("failed to drain pending jobs")
		return result, fmt.Errorf("%w: %w", models.ErrSchedulingFailed, err)
	}
	result.Drained = true

	a.m.SchedulerOps.WithLabelValues("unschedule_all", "success").Inc()
	a.log.Info().
		Int("removed", result.RemovedCount).
		Msg("all schedulers removed and pending jobs drained")
	return result, nil
}
