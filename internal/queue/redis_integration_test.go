//go:build integration

package queue_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleksandr-h/weather-agent/internal/models"
	"github.com/oleksandr-h/weather-agent/internal/queue"
)

func newLiveBackend(t *testing.T) (*queue.RedisBackend, *redis.Client) {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	name := fmt.Sprintf("weather-test-%d", time.Now().UnixNano())
	b := queue.NewRedisBackend(client, name, 5*time.Second, zerolog.Nop())
	t.Cleanup(func() {
		_, _ = b.RemoveScheduler(context.Background(), "weather-sub-1")
		_ = b.DrainPending(context.Background())
		_ = client.Close()
	})
	return b, client
}

func TestRedisBackend_UpsertIsIdempotent(t *testing.T) {
	b, _ := newLiveBackend(t)
	ctx := context.Background()
	payload := models.WeatherEmailJob{City: "London", RecipientEmail: "a@x.com"}

	key1, err := b.UpsertScheduler(ctx, "weather-sub-1", "0 17 * * *", payload)
	require.NoError(t, err)
	key2, err := b.UpsertScheduler(ctx, "weather-sub-1", "0 17 * * *", payload)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	infos, err := b.ListSchedulers(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "weather-sub-1", infos[0].Key)
	assert.Equal(t, "0 17 * * *", infos[0].Pattern)
}

func TestRedisBackend_RemoveReportsExistence(t *testing.T) {
	b, _ := newLiveBackend(t)
	ctx := context.Background()

	_, err := b.UpsertScheduler(ctx, "weather-sub-1", "0 17 * * *",
		models.WeatherEmailJob{City: "London", RecipientEmail: "a@x.com"})
	require.NoError(t, err)

	removed, err := b.RemoveScheduler(ctx, "weather-sub-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = b.RemoveScheduler(ctx, "weather-sub-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisBackend_FireAndPop(t *testing.T) {
	b, _ := newLiveBackend(t)
	ctx := context.Background()
	payload := models.WeatherEmailJob{City: "Kyiv", RecipientEmail: "b@x.com"}

	_, err := b.UpsertScheduler(ctx, "weather-sub-1", "* * * * *", payload)
	require.NoError(t, err)

	// the next run is in the future, so a due scan one step ahead finds it
	due, err := b.DueSchedulers(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	require.Contains(t, due, "weather-sub-1")

	require.NoError(t, b.FireScheduler(ctx, "weather-sub-1", time.Now()))

	job, ok, err := b.PopJob(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "weather-sub-1", job.SchedulerKey)
	assert.Equal(t, payload, job.Data)
}

func TestRedisBackend_DrainDiscardsPendingOnly(t *testing.T) {
	b, _ := newLiveBackend(t)
	ctx := context.Background()

	_, err := b.UpsertScheduler(ctx, "weather-sub-1", "* * * * *",
		models.WeatherEmailJob{City: "Kyiv", RecipientEmail: "b@x.com"})
	require.NoError(t, err)
	require.NoError(t, b.FireScheduler(ctx, "weather-sub-1", time.Now()))

	require.NoError(t, b.DrainPending(ctx))

	_, ok, err := b.PopJob(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// the recurring definition survives the drain
	infos, err := b.ListSchedulers(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
