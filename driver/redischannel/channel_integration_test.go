//go:build integration

package redischannel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/goforj/feedcache"
	"github.com/goforj/feedcache/channeltest"
	"github.com/redis/go-redis/v9"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestChannelContractRedis(t *testing.T) {
	ctx := context.Background()
	container, addr := startRedisContainer(t, ctx)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(shutdownCtx)
	})

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	opener := New(Config{Client: client, ChannelPrefix: "itest"})
	channeltest.RunChannelContract(t, opener, func(ctx context.Context, raw feedcache.RawChange) error {
		return Publish(ctx, client, "itest", raw)
	}, channeltest.Options{Timeout: 2 * time.Second, Quiet: 250 * time.Millisecond})
}

func startRedisContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-bookworm",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis container port: %v", err)
	}
	return container, net.JoinHostPort(host, port.Port())
}
