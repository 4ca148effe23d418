package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/oleksandr-h/weather-agent/internal/models"
)

type backend interface {
	UpsertScheduler(ctx context.Context, key, pattern string, payload models.WeatherEmailJob) (string, error)
	RemoveScheduler(ctx context.Context, key string) (bool, error)
	ListSchedulers(ctx context.Context) ([]SchedulerInfo, error)
	DrainPending(ctx context.Context) error
}

type BreakerConfig struct {
	TimeInterval time.Duration
	TimeTimeOut  time.Duration
	RepeatNumber uint32
}

// BreakerBackend guards the queue backend with a circuit breaker. An open
// circuit surfaces as ErrBackendUnavailable so callers treat it like any other
// connectivity fault.
type BreakerBackend struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	wrapped backend
}

func NewBreakerBackend(name string, cfg BreakerConfig, wrapped backend) *BreakerBackend {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.TimeInterval,
		Timeout:     cfg.TimeTimeOut,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.RepeatNumber
		},
	}
	return &BreakerBackend{
		name:    name,
		cb:      gobreaker.NewCircuitBreaker(settings),
		wrapped: wrapped,
	}
}

func (b *BreakerBackend) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %w", b.name, models.ErrBackendUnavailable, err)
	}
	return result, err
}

func (b *BreakerBackend) UpsertScheduler(
	ctx context.Context,
	key, pattern string,
	payload models.WeatherEmailJob,
) (string, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.wrapped.UpsertScheduler(ctx, key, pattern, payload)
	})
	if err != nil {
		return "", err
	}
	k, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("%s returned unexpected result", b.name)
	}
	return k, nil
}

func (b *BreakerBackend) RemoveScheduler(ctx context.Context, key string) (bool, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.wrapped.RemoveScheduler(ctx, key)
	})
	if err != nil {
		return false, err
	}
	removed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%s returned unexpected result", b.name)
	}
	return removed, nil
}

func (b *BreakerBackend) ListSchedulers(ctx context.Context) ([]SchedulerInfo, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.wrapped.ListSchedulers(ctx)
	})
	if err != nil {
		return nil, err
	}
	infos, ok := result.([]SchedulerInfo)
	if !ok {
		return nil, fmt.Errorf("%s returned unexpected result", b.name)
	}
	return infos, nil
}

func (b *BreakerBackend) DrainPending(ctx context.Context) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.wrapped.DrainPending(ctx)
	})
	return err
}
