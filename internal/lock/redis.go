package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL        = 30 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	defaultPrefix     = "vendorflow:lock:"
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a Redis locker.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	TTL        time.Duration
	RetryDelay time.Duration
}

// Redis is a lease-based distributed lock using SET NX PX. A holder that
// outlives TTL loses the lock.
type Redis struct {
	rdb        *goredis.Client
	logger     *zap.Logger
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := &Redis{
		rdb:        rdb,
		logger:     logger,
		prefix:     cfg.Prefix,
		ttl:        cfg.TTL,
		retryDelay: cfg.RetryDelay,
	}
	if r.prefix == "" {
		r.prefix = defaultPrefix
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.retryDelay <= 0 {
		r.retryDelay = defaultRetryDelay
	}
	return r, nil
}

// Lock polls until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, r.rdb, []string{full}, token).Err(); err != nil {
			r.logger.Warn("releasing redis lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Locker = (*Redis)(nil)
