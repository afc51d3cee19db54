// Package redisgate is the cooldown gate shared by every ingestion replica.
package redisgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fleet:cooldown:"

// allowScript compares and sets in one round trip. ARGV: fix time (ms), window (ms), ttl (ms).
var allowScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local at = tonumber(ARGV[1])
if last and (at - tonumber(last)) < tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

type Gate struct {
	client redis.Scripter
	window time.Duration
	ttl    time.Duration
}

// New wraps an existing client. Entries expire after twice the window.
func New(client redis.Scripter, window time.Duration) *Gate {
	ttl := 2 * window
	if ttl < time.Second {
		ttl = time.Second
	}
	return &Gate{client: client, window: window, ttl: ttl}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, redisURL string, window time.Duration) (*Gate, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, window), client, nil
}

func (g *Gate) Allow(ctx context.Context, key string, at time.Time) (bool, error) {
	res, err := allowScript.Run(ctx, g.client, []string{keyPrefix + key},
		at.UnixMilli(), g.window.Milliseconds(), g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cooldown script for %s: %w", key, err)
	}
	return res == 1, nil
}
