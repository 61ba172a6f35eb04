//go:build integration

// Integration tests for the networked slot backends.
// Run with: go test -tags=integration -v ./internal/datastore/...
//
// Requires a Docker daemon reachable by testcontainers.
package datastore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMySQLStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MySQL container test in short mode")
	}
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("pawdentify_test"),
		tcmysql.WithUsername("pawdentify"),
		tcmysql.WithPassword("pawdentify"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	store, err := OpenMySQL(&MySQLConfig{
		Host:     host,
		Port:     port.Port(),
		Username: "pawdentify",
		Password: "pawdentify",
		Database: "pawdentify_test",
	}, "integration", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseSlot(t, store)
}

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	store, err := OpenRedis(ctx, &RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port())}, "integration", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseSlot(t, store)
}
