package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/docflow/shared/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc
}

func TestRedisCache_JobStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, rc.Ping(ctx))

	_, ok, err := rc.GetJobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rc.SetJobStatus(ctx, jobID, "RUNNING", time.Minute))
	status, ok, err := rc.GetJobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "RUNNING", status)

	require.NoError(t, rc.SetJobStatus(ctx, jobID, "SUCCESS", time.Minute))
	status, _, err = rc.GetJobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", status)
}

func TestRedisCache_StatusExpires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, rc.SetJobStatus(ctx, jobID, "PENDING", 100*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, ok, err := rc.GetJobStatus(ctx, jobID)
		return err == nil && !ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("not-a-url://")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var c cache.StatusCache = cache.Nop{}
	ctx := context.Background()

	require.NoError(t, c.SetJobStatus(ctx, uuid.New(), "RUNNING", time.Minute))
	_, ok, err := c.GetJobStatus(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestJobStatusKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "docflow:job:11111111-2222-3333-4444-555555555555:status", cache.JobStatusKey(id))
}
