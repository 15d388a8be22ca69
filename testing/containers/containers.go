// Package containers connects integration tests to the PostgreSQL and Redis
// instances started by docker-compose.test.yml. Tests are skipped when the
// service is not reachable.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-huddle/adapters/postgres"
	huddleredis "github.com/AshkanYarmoradi/go-huddle/adapters/redis"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// PostgresURL returns the connection string of the test database.
//
// Environment variables:
//   - TEST_DATABASE_URL: full connection string
//   - TEST_POSTGRES_USER, TEST_POSTGRES_PASSWORD, TEST_POSTGRES_PORT, TEST_POSTGRES_DB
func PostgresURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable",
		getEnvOrDefault("TEST_POSTGRES_USER", "postgres"),
		getEnvOrDefault("TEST_POSTGRES_PASSWORD", "postgres"),
		getEnvOrDefault("TEST_POSTGRES_PORT", "5432"),
		getEnvOrDefault("TEST_POSTGRES_DB", "huddle_test"),
	)
}

// RedisAddr returns the address of the test Redis server (TEST_REDIS_ADDR).
func RedisAddr() string {
	return getEnvOrDefault("TEST_REDIS_ADDR", "localhost:6379")
}

// UniqueName returns prefix suffixed with the current time in nanoseconds.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// waitForPostgres waits for PostgreSQL to be ready.
func waitForPostgres(ctx context.Context, db *sql.DB) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Postgres returns a migrated adapter in a fresh schema. The schema is
// dropped when the test finishes.
func Postgres(t *testing.T, opts ...postgres.Option) *postgres.PostgresAdapter {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := sql.Open("pgx", PostgresURL())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waitForPostgres(ctx, db); err != nil {
		db.Close()
		t.Skipf("PostgreSQL not available at %s: %v", PostgresURL(), err)
	}

	schema := UniqueName("huddle_test")
	adapter := postgres.NewAdapterWithDB(db, append([]postgres.Option{postgres.WithSchema(schema)}, opts...)...)
	if err := adapter.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate schema %s: %v", schema, err)
	}

	t.Cleanup(func() {
		if _, err := db.Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, schema)); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
		db.Close()
	})
	return adapter
}

// Redis returns an adapter writing under a fresh key prefix. Keys under the
// prefix are deleted when the test finishes.
func Redis(t *testing.T, opts ...huddleredis.Option) *huddleredis.RedisAdapter {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: RedisAddr()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", RedisAddr(), err)
	}

	prefix := UniqueName("huddle_test")
	adapter := huddleredis.NewAdapter(client, append([]huddleredis.Option{huddleredis.WithPrefix(prefix)}, opts...)...)

	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return adapter
}
