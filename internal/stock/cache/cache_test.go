package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/pkg/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c StockLevelCache = Noop{}

	require.NoError(t, c.Set(ctx, &domain.StockLevel{Sku: domain.Sku{ID: "SKU-1"}}))
	level, ok, err := c.Get(ctx, "SKU-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, level)
	assert.NoError(t, c.Invalidate(ctx, "SKU-1"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "stockledger:level:SKU-1", Key("SKU-1"))
}

func TestRedis_UnreachableServerReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	c := NewRedisWithClient(client, time.Minute)
	defer c.Close()

	_, ok, err := c.Get(context.Background(), "SKU-1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, "unhealthy", c.Health(context.Background())["status"])
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	testutil.SkipIfShort(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_Integration_RoundTripAndInvalidate(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	c := NewRedisWithClient(client, time.Minute)

	_, ok, err := c.Get(ctx, "SKU-1")
	require.NoError(t, err)
	assert.False(t, ok)

	level := &domain.StockLevel{
		Sku:      domain.Sku{ID: "SKU-1", Quantity: 7, MaxStockQty: 10},
		Batches:  []domain.Batch{{ID: "b1", SkuID: "SKU-1", Quantity: 7}},
		LowStock: true,
	}
	require.NoError(t, c.Set(ctx, level))

	got, ok, err := c.Get(ctx, "SKU-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.Sku.Quantity)
	assert.True(t, got.LowStock)
	require.Len(t, got.Batches, 1)

	ttl, err := client.TTL(ctx, Key("SKU-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.Invalidate(ctx, "SKU-1"))
	_, ok, err = c.Get(ctx, "SKU-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
