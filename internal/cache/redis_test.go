// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, &RedisCache{client: client, logger: zerolog.Nop()}
}

func TestRedisCache_SetGet(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "feed:ch-1:audio", []byte("<rss/>"), 5*time.Minute)

	val, found := c.Get(ctx, "feed:ch-1:audio")
	if !found {
		t.Fatal("expected value to be found")
	}
	if string(val) != "<rss/>" {
		t.Errorf("expected document bytes back, got %q", val)
	}

	stats := c.Stats()
	if stats.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Sets)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
}

func TestRedisCache_GetMissing(t *testing.T) {
	_, c := setupMiniRedis(t)

	val, found := c.Get(context.Background(), "nonexistent")
	if found {
		t.Error("expected value to not be found")
	}
	if val != nil {
		t.Errorf("expected nil value, got %v", val)
	}
	if got := c.Stats().Misses; got != 1 {
		t.Errorf("expected 1 miss, got %d", got)
	}
}

func TestRedisCache_Expiration(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "shortlived", []byte("x"), 30*time.Second)

	// miniredis time is virtual; advance it past the TTL.
	mr.FastForward(time.Minute)

	if _, found := c.Get(ctx, "shortlived"); found {
		t.Error("expected key to be expired")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("x"), 5*time.Minute)
	c.Delete(ctx, "key")

	if _, found := c.Get(ctx, "key"); found {
		t.Error("expected key to be deleted")
	}
}

func TestRedisCache_DeletePrefix(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "feed:ch-1:audio", []byte("a"), 5*time.Minute)
	c.Set(ctx, "feed:ch-1:video", []byte("v"), 5*time.Minute)
	c.Set(ctx, "feed:ch-2:audio", []byte("b"), 5*time.Minute)

	c.DeletePrefix(ctx, "feed:ch-1:")

	if _, found := c.Get(ctx, "feed:ch-1:audio"); found {
		t.Error("expected prefixed key to be deleted")
	}
	if _, found := c.Get(ctx, "feed:ch-1:video"); found {
		t.Error("expected prefixed key to be deleted")
	}
	if _, found := c.Get(ctx, "feed:ch-2:audio"); !found {
		t.Error("expected sibling channel to survive")
	}
}

func TestRedisCache_NonPositiveTTLStoresNothing(t *testing.T) {
	_, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("x"), 0)

	if _, found := c.Get(ctx, "key"); found {
		t.Error("expected nothing stored for non-positive ttl")
	}
}

func TestRedisCache_Ping(t *testing.T) {
	mr, c := setupMiniRedis(t)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}

	mr.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after server close")
	}
}
