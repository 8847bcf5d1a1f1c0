package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReconnectDelay is how long the client waits before retrying a lost connection
const ReconnectDelay = 5 * time.Second

// RedisClient is the single shared Redis connection used by the balance cache
type RedisClient struct {
	Client *redis.Client

	logger         *slog.Logger
	reconnectDelay time.Duration
	healthy        atomic.Bool
	reconnecting   atomic.Bool
	closed         atomic.Bool
}

func NewRedisClient(ctx context.Context, url string, logger *slog.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := &RedisClient{
		Client:         redis.NewClient(opts),
		logger:         logger.With(slog.String("component", "redis")),
		reconnectDelay: ReconnectDelay,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Client.Ping(pingCtx).Err(); err != nil {
		// Routing and replies keep working without the cache, so start anyway.
		rc.logger.Warn("redis unavailable at startup", slog.String("addr", opts.Addr), slog.Any("error", err))
		rc.ReportError(err)
		return rc, nil
	}

	rc.healthy.Store(true)
	rc.logger.Info("redis connected", slog.String("addr", opts.Addr))
	return rc, nil
}

// Healthy reports whether the last round-trip succeeded
func (r *RedisClient) Healthy() bool {
	return r.healthy.Load()
}

// ReportError lets callers signal a failed command. Connection failures mark
// the client unhealthy and schedule one reconnection attempt after ReconnectDelay.
func (r *RedisClient) ReportError(err error) {
	if !IsRedisConnectionError(err) || r.closed.Load() {
		return
	}
	r.healthy.Store(false)
	if !r.reconnecting.CompareAndSwap(false, true) {
		return
	}
	r.logger.Warn("redis connection lost, scheduling reconnect", slog.Duration("delay", r.reconnectDelay), slog.Any("error", err))
	time.AfterFunc(r.reconnectDelay, r.reconnect)
}

// ReportSuccess marks the connection healthy after a successful command
func (r *RedisClient) ReportSuccess() {
	r.healthy.Store(true)
}

func (r *RedisClient) reconnect() {
	if r.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := r.Client.Ping(ctx).Err()
	r.reconnecting.Store(false)
	if err != nil {
		r.logger.Error("redis reconnect failed", slog.Any("error", err))
		r.ReportError(err)
		return
	}
	r.healthy.Store(true)
	r.logger.Info("redis reconnected")
}

func (r *RedisClient) Close() error {
	r.closed.Store(true)
	return r.Client.Close()
}

// IsRedisConnectionError separates transport failures from replies the server sent.
func IsRedisConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var replyErr redis.Error
	return !errors.As(err, &replyErr)
}
