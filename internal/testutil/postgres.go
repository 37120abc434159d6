package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/db"
)

const (
	dbUser     = "shop"
	dbPassword = "shop"
)

// StartOrderPostgres launches a temporary Postgres container, applies the
// order service migrations, and returns an open handle plus the DSN.
func StartOrderPostgres(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dsn := startPostgres(t, "orders")
	applyMigrations(t, func() error { return db.RunOrderMigrations(dsn, zap.NewNop()) })

	conn, err := db.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, dsn
}

// StartCatalogPostgres launches a temporary Postgres container, applies the
// catalog service migrations (including the product seed), and returns an
// open pool plus the DSN.
func StartCatalogPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	dsn := startPostgres(t, "catalog")
	applyMigrations(t, func() error { return db.RunCatalogMigrations(dsn, zap.NewNop()) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, dsn
}

func startPostgres(t *testing.T, dbName string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanupCancel()
		_ = container.Terminate(cleanupCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, host, mappedPort.Port(), dbName)
}

// applyMigrations retries until the container finishes its init handshake.
func applyMigrations(t *testing.T, run func() error) {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for {
		err := run()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout applying migrations: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
