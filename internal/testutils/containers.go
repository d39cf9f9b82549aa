// Package testutils starts the backing services integration tests run
// against. Set TEST_POSTGRES_DSN or TEST_REDIS_ADDR to reuse a running
// instance instead of a container.
package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-intake-bot/internal/persistence"
)

const startupTimeout = 60 * time.Second

// MigrationsDir is the absolute path of the repository's SQL migrations.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func skipIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
}

// SetupPostgres returns a pool on a migrated database and closes it when
// the test ends.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	skipIntegration(t)
	ctx := context.Background()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image: "postgres:15",
				Env: map[string]string{
					"POSTGRES_PASSWORD": "test",
					"POSTGRES_USER":     "test",
					"POSTGRES_DB":       "intake",
				},
				ExposedPorts: []string{"5432/tcp"},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(startupTimeout),
			},
			Started: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

		host, err := pg.Host(ctx)
		require.NoError(t, err)
		port, err := pg.MappedPort(ctx, "5432")
		require.NoError(t, err)
		dsn = fmt.Sprintf("postgres://test:test@%s:%s/intake?sslmode=disable", host, port.Port())
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.Eventually(t, func() bool { return pool.Ping(ctx) == nil }, 30*time.Second, 500*time.Millisecond)

	require.NoError(t, persistence.RunMigrations(ctx, pool, MigrationsDir(), zap.NewNop()))
	return pool
}

// ResetPostgres empties every table and restarts identities.
func ResetPostgres(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE ticket_notifications, tickets, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

// SetupRedis returns a client on an empty Redis database.
func SetupRedis(t *testing.T) *redis.Client {
	t.Helper()
	skipIntegration(t)
	ctx := context.Background()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(startupTimeout),
			},
			Started: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

		host, err := rc.Host(ctx)
		require.NoError(t, err)
		port, err := rc.MappedPort(ctx, "6379")
		require.NoError(t, err)
		addr = fmt.Sprintf("%s:%s", host, port.Port())
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	return client
}
