package testutil

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/migrations"
	"github.com/stretchr/testify/require"
)

var (
	once           sync.Once
	sharedDB       *db.DB
	connectErr     error
	migrationsDone bool
	mu             sync.Mutex
)

// Stable advisory lock so only one package resets/runs migrations at a time.
const advisoryLockID int64 = 0x68_75_64_64_6C_65

func getConfig() config.DatabaseConfig {
	port, err := strconv.Atoi(envOr("TEST_DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return config.DatabaseConfig{
		Host:            envOr("TEST_DB_HOST", "localhost"),
		Port:            port,
		User:            envOr("TEST_DB_USER", "postgres"),
		Password:        envOr("TEST_DB_PASSWORD", "postgres"),
		Database:        envOr("TEST_DB_NAME", "huddle_test"),
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

// GetDB returns a migrated, truncated database. Tests are skipped when no
// Postgres is reachable, so unit runs work without infrastructure.
func GetDB(t *testing.T) *db.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	mu.Lock()
	defer mu.Unlock()

	once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sharedDB, connectErr = connect(ctx, getConfig())
	})
	if connectErr != nil {
		t.Skipf("testutil: postgres not available: %v", connectErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := sharedDB.Pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID)
	require.NoError(t, err)
	defer func() { _, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID) }()

	if !migrationsDone {
		resetPublicSchema(ctx, t, sharedDB)

		_, err = migrations.Run(ctx, sharedDB.Pool)
		require.NoError(t, err, "failed to run migrations")
		migrationsDone = true
	}

	truncateAll(ctx, t, sharedDB)

	return sharedDB
}

func connect(ctx context.Context, cfg config.DatabaseConfig) (*db.DB, error) {
	// db.New retries for a long time at startup; probe once first.
	probe, err := db.Probe(ctx, cfg)
	if err != nil {
		return nil, err
	}
	_ = probe.Close(ctx)
	return db.New(ctx, cfg, nil)
}

func resetPublicSchema(ctx context.Context, t *testing.T, database *db.DB) {
	t.Helper()

	_, err := database.Pool.Exec(ctx, `DROP SCHEMA IF EXISTS public CASCADE`)
	require.NoError(t, err)

	_, err = database.Pool.Exec(ctx, `CREATE SCHEMA public`)
	require.NoError(t, err)
}

func truncateAll(ctx context.Context, t *testing.T, database *db.DB) {
	t.Helper()

	_, err := database.Pool.Exec(ctx, `
		TRUNCATE TABLE message_mentions, message_reactions, message_attachments,
			messages, channel_members, channels, users CASCADE`)
	require.NoError(t, err)
}

func Teardown() {
	mu.Lock()
	defer mu.Unlock()
	if sharedDB != nil {
		sharedDB.Close()
		sharedDB = nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
