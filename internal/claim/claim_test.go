package claim

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupClaimer creates a test claimer backed by miniredis
func setupClaimer(t *testing.T, opts ...Option) (*RedisClaimer, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, opts...), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	c, mr := setupClaimer(t)
	ctx := context.Background()

	release, ok, err := c.Acquire(ctx, "item-1/en")
	if err != nil || !ok {
		t.Fatalf("first Acquire = (%v, %v), want acquired", ok, err)
	}

	_, ok, err = c.Acquire(ctx, "item-1/en")
	if err != nil {
		t.Fatalf("second Acquire error = %v", err)
	}
	if ok {
		t.Fatal("second Acquire should be contended")
	}

	release()
	if mr.Exists(defaultPrefix + ":item-1/en") {
		t.Error("claim still held after release")
	}
	if _, ok, _ := c.Acquire(ctx, "item-1/en"); !ok {
		t.Error("Acquire after release should succeed")
	}
}

func TestClaimExpires(t *testing.T) {
	c, mr := setupClaimer(t, WithTTL(30*time.Second))
	ctx := context.Background()

	if _, ok, _ := c.Acquire(ctx, "k"); !ok {
		t.Fatal("Acquire should succeed")
	}
	if ttl := mr.TTL(defaultPrefix + ":k"); ttl != 30*time.Second {
		t.Errorf("TTL = %v, want 30s", ttl)
	}

	mr.FastForward(31 * time.Second)
	if _, ok, _ := c.Acquire(ctx, "k"); !ok {
		t.Error("Acquire after expiry should succeed")
	}
}

func TestStaleReleaseKeepsNewHolder(t *testing.T) {
	c, mr := setupClaimer(t, WithTTL(time.Second))
	ctx := context.Background()

	staleRelease, _, _ := c.Acquire(ctx, "k")
	mr.FastForward(2 * time.Second)

	if _, ok, _ := c.Acquire(ctx, "k"); !ok {
		t.Fatal("second holder should acquire the expired claim")
	}
	staleRelease()

	if !mr.Exists(defaultPrefix + ":k") {
		t.Error("stale release removed the new holder's claim")
	}
}

func TestPrefixAndEmptyKey(t *testing.T) {
	c, mr := setupClaimer(t, WithPrefix("test"))
	ctx := context.Background()

	if _, _, err := c.Acquire(ctx, ""); err != ErrInvalidKey {
		t.Errorf("Acquire(\"\") error = %v, want ErrInvalidKey", err)
	}
	if _, ok, _ := c.Acquire(ctx, "abc"); !ok {
		t.Fatal("Acquire should succeed")
	}
	if !mr.Exists("test:abc") {
		t.Error("expected key test:abc")
	}
}

func TestAcquireRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := New(client)
	mr.Close()

	if _, ok, err := c.Acquire(context.Background(), "k"); err == nil || ok {
		t.Errorf("Acquire with redis down = (%v, %v), want error", ok, err)
	}
}
