package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the redis server backing the job queue and the
// stats cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis holds the shared client. Blocking queue reads get their own read
// deadline from go-redis, so the short timeouts here only bound cache calls.
type Redis struct {
	Client *redis.Client
}

func NewRedis(opt RedisOptions) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:         opt.Addr,
		Password:     opt.Password,
		DB:           opt.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
	})}
}

// Healthy pings redis, giving up after one second.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err() == nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
