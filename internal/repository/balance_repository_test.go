package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgresBalanceCacheRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS balances (
		key VARCHAR(128) PRIMARY KEY,
		saldo VARCHAR(64) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM balances WHERE key LIKE 'test-%'")
	})

	cache := NewPostgresBalanceCache(pool)
	if err := cache.Write(ctx, "test-1", "EDENOR", "1500"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cache.Write(ctx, "test-1", "EDENOR", "0"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	record, err := cache.Read(ctx, "test-1", "EDENOR")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if record.Balance != "0" {
		t.Fatalf("expected last write to win, got %q", record.Balance)
	}
	if _, err := cache.Read(ctx, "test-2", "EDENOR"); !errors.Is(err, ErrBalanceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
