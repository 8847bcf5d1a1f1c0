package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"saldobot/internal/entities"
)

const (
	fieldBalance   = "saldo"
	fieldTimestamp = "timestamp"

	// ISO-8601 with milliseconds, UTC
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrBalanceNotFound covers both a missing key and a record without a balance field
var ErrBalanceNotFound = errors.New("balance not found")

// BalanceKey composes the cache key for an account+service pair
func BalanceKey(accountNumber, service string) string {
	return accountNumber + "-" + service
}

// ConnectionObserver is told about the outcome of every backend round-trip
type ConnectionObserver interface {
	ReportError(err error)
	ReportSuccess()
}

// RedisBalanceCache stores one hash per key with saldo and timestamp fields
type RedisBalanceCache struct {
	client   redis.Cmdable
	observer ConnectionObserver
	now      func() time.Time
}

func NewRedisBalanceCache(client redis.Cmdable, observer ConnectionObserver) *RedisBalanceCache {
	return &RedisBalanceCache{
		client:   client,
		observer: observer,
		now:      time.Now,
	}
}

// Write replaces the whole record for the key
func (c *RedisBalanceCache) Write(ctx context.Context, accountNumber, service, balance string) error {
	key := BalanceKey(accountNumber, service)
	timestamp := c.now().UTC().Format(TimestampLayout)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldBalance, balance, fieldTimestamp, timestamp)
		return nil
	})
	c.observe(err)
	if err != nil {
		return fmt.Errorf("write balance %s: %w", key, err)
	}
	return nil
}

func (c *RedisBalanceCache) Read(ctx context.Context, accountNumber, service string) (entities.BalanceRecord, error) {
	key := BalanceKey(accountNumber, service)

	fields, err := c.client.HGetAll(ctx, key).Result()
	c.observe(err)
	if err != nil {
		return entities.BalanceRecord{}, fmt.Errorf("read balance %s: %w", key, err)
	}

	balance, ok := fields[fieldBalance]
	if !ok {
		return entities.BalanceRecord{}, ErrBalanceNotFound
	}

	record := entities.BalanceRecord{Key: key, Balance: balance}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldTimestamp]); err == nil {
		record.Timestamp = ts
	}
	return record, nil
}

func (c *RedisBalanceCache) observe(err error) {
	if c.observer == nil {
		return
	}
	if err != nil {
		c.observer.ReportError(err)
		return
	}
	c.observer.ReportSuccess()
}
