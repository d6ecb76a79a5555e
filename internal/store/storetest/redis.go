//go:build integration

package storetest

import (
	"context"
	"testing"
	"time"

	"facecheck/internal/store"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redis starts a throwaway Redis and registers its cleanup on t.
func Redis(t *testing.T) *store.Redis {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	r := store.NewRedis(endpoint)
	t.Cleanup(func() { r.Close() })
	if !r.Healthy(ctx) {
		t.Fatalf("redis at %s not healthy", endpoint)
	}
	return r
}
