package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(
		NewRedisClient,
		provideLocker,
		NewLimiter,
	),
)

// NewRedisClient returns nil when no redis address is configured. All
// consumers tolerate a nil client and fall back to in-process behavior.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RateLimit.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable at startup", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// provideLocker returns a nil Locker when redis is absent or per-license
// activation locking is disabled. Callers treat nil as "soft quota".
func provideLocker(cfg config.Config, client *redis.Client) *Locker {
	if !cfg.RateLimit.ActivationLockEnabled {
		return nil
	}
	return NewLocker(client)
}

// NewLimiter picks the redis-backed window when a client is available and
// the in-memory one otherwise.
func NewLimiter(lc fx.Lifecycle, client *redis.Client, clk clock.Clock, log *zap.Logger) Limiter {
	if client != nil {
		return NewRedisFixedWindow(client)
	}

	log.Info("rate limiting on in-process windows, configure RATE_LIMIT_REDIS_ADDR for multi-replica deployments")

	mem := NewMemoryFixedWindow(clk)
	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						mem.Sweep()
					case <-stop:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(stop)
			return nil
		},
	})
	return mem
}
