package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"saldobot/internal/entities"
)

// PostgresBalanceCache keeps the same latest-value contract as the Redis cache
// in a balances table, for deployments without Redis
type PostgresBalanceCache struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresBalanceCache(db *pgxpool.Pool) *PostgresBalanceCache {
	return &PostgresBalanceCache{db: db, now: time.Now}
}

func (r *PostgresBalanceCache) Write(ctx context.Context, accountNumber, service, balance string) error {
	key := BalanceKey(accountNumber, service)
	_, err := r.db.Exec(ctx, `
		INSERT INTO balances (key, saldo, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET saldo=EXCLUDED.saldo, updated_at=EXCLUDED.updated_at
	`, key, balance, r.now().UTC())
	if err != nil {
		return fmt.Errorf("write balance %s: %w", key, err)
	}
	return nil
}

func (r *PostgresBalanceCache) Read(ctx context.Context, accountNumber, service string) (entities.BalanceRecord, error) {
	key := BalanceKey(accountNumber, service)
	record := entities.BalanceRecord{Key: key}
	err := r.db.QueryRow(ctx, "SELECT saldo, updated_at FROM balances WHERE key=$1", key).Scan(&record.Balance, &record.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.BalanceRecord{}, ErrBalanceNotFound
	}
	if err != nil {
		return entities.BalanceRecord{}, fmt.Errorf("read balance %s: %w", key, err)
	}
	return record, nil
}
