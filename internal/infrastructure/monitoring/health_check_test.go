package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"playloop/internal/infrastructure/repositories/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_NoChecksIsHealthy(t *testing.T) {
	h := NewHealthChecker()
	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Empty(t, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_RedisAndRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := NewHealthChecker()
	h.AddRedisCheck(client, time.Second)
	h.AddSessionRepositoryCheck(memory.NewMemorySessionRepository(), time.Second)

	status := h.CheckAll(context.Background())
	require.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, map[string]string{"redis": StatusHealthy, "sessions": StatusHealthy}, status.Checks)

	mr.Close()

	status = h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.NotEqual(t, StatusHealthy, status.Checks["redis"])
	assert.Equal(t, StatusHealthy, status.Checks["sessions"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_TimeoutApplied(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)
	h.AddCheck("broken", func(context.Context) error {
		return errors.New("boom")
	}, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
	assert.Equal(t, "boom", status.Checks["broken"])
}
