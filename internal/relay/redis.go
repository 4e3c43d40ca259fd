package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"schoolbell/internal/eventbus"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string // channel prefix; default "schoolbell"
}

// RedisSink PUBLISHes each event as JSON on <prefix>:tenant:<id>.
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "schoolbell"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (r *RedisSink) Name() string { return "redis" }

// Channel is the pub/sub channel for tenant.
func (r *RedisSink) Channel(tenant string) string {
	return fmt.Sprintf("%s:tenant:%s", r.prefix, tenant)
}

func (r *RedisSink) Send(ctx context.Context, e eventbus.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(e.Tenant), b).Err()
}

func (r *RedisSink) Close() error { return r.client.Close() }
