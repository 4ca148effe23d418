package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleksandr-h/weather-agent/internal/models"
	"github.com/oleksandr-h/weather-agent/internal/queue"
)

type flakyBackend struct {
	err   error
	calls int
}

func (f *flakyBackend) UpsertScheduler(
	context.Context, string, string, models.WeatherEmailJob,
) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "weather-ok", nil
}

func (f *flakyBackend) RemoveScheduler(context.Context, string) (bool, error) {
	f.calls++
	return false, f.err
}

func (f *flakyBackend) ListSchedulers(context.Context) ([]queue.SchedulerInfo, error) {
	f.calls++
	return nil, f.err
}

func (f *flakyBackend) DrainPending(context.Context) error {
	f.calls++
	return f.err
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	wrapped := &flakyBackend{err: errors.New("connection reset")}
	b := queue.NewBreakerBackend("test-queue", queue.BreakerConfig{
		TimeInterval: time.Minute,
		TimeTimeOut:  time.Minute,
		RepeatNumber: 2,
	}, wrapped)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.UpsertScheduler(ctx, "k", "0 17 * * *", models.WeatherEmailJob{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrBackendUnavailable)
	}

	// circuit is open now: the wrapped backend is no longer reached
	callsBefore := wrapped.calls
	_, err := b.UpsertScheduler(ctx, "k", "0 17 * * *", models.WeatherEmailJob{})
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.Equal(t, callsBefore, wrapped.calls)
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	wrapped := &flakyBackend{}
	b := queue.NewBreakerBackend("test-queue", queue.BreakerConfig{
		TimeInterval: time.Minute,
		TimeTimeOut:  time.Minute,
		RepeatNumber: 5,
	}, wrapped)

	key, err := b.UpsertScheduler(context.Background(), "k", "0 17 * * *", models.WeatherEmailJob{})
	require.NoError(t, err)
	assert.Equal(t, "weather-ok", key)
}
