// Package claim marks a narration as in flight so that concurrent first-time
// requests for the same work can wait for one synthesis instead of repeating it.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 10 * time.Minute
	defaultPrefix = "narration:claim"
)

// ErrInvalidKey is returned for an empty claim key.
var ErrInvalidKey = errors.New("claim: empty key")

// releaseScript deletes the key only while it still holds our token, so an
// expired claim taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer takes short-lived claims with SET NX PX.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Option configures a RedisClaimer.
type Option func(*RedisClaimer)

// WithTTL bounds how long a claim survives a holder that never releases it.
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisClaimer) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix sets the key prefix for Redis keys.
func WithPrefix(prefix string) Option {
	return func(c *RedisClaimer) {
		c.prefix = prefix
	}
}

func New(client *redis.Client, opts ...Option) *RedisClaimer {
	c := &RedisClaimer{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisClaimer) redisKey(key string) string {
	return c.prefix + ":" + key
}

// Acquire tries to take the claim for key. When acquired is true the caller
// must call release once the work is published or abandoned.
func (c *RedisClaimer) Acquire(ctx context.Context, key string) (release func(), acquired bool, err error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	token := uuid.NewString()
	rk := c.redisKey(key)

	ok, err := c.client.SetNX(ctx, rk, token, c.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// The request context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, c.client, []string{rk}, token).Err()
	}
	return release, true, nil
}
