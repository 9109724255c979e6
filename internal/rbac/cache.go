package rbac

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Generation is a monotonically increasing counter bumped after every
// committed mutation. Cache entries are keyed by it.
type Generation interface {
	Current(ctx context.Context) (uint64, error)
	Bump(ctx context.Context) error
}

// LocalGeneration is a process-local Generation.
type LocalGeneration struct {
	n atomic.Uint64
}

// Current returns the current generation.
func (g *LocalGeneration) Current(context.Context) (uint64, error) {
	return g.n.Load(), nil
}

// Bump advances the generation.
func (g *LocalGeneration) Bump(context.Context) error {
	g.n.Add(1)
	return nil
}

// RedisGeneration shares the generation between processes through a Redis key.
type RedisGeneration struct {
	client redis.Cmdable
	key    string
}

// NewRedisGeneration returns a Generation stored under key.
func NewRedisGeneration(client redis.Cmdable, key string) *RedisGeneration {
	if key == "" {
		key = "rbac:generation"
	}
	return &RedisGeneration{client: client, key: key}
}

// Current reads the shared generation; a missing key is generation zero.
func (g *RedisGeneration) Current(ctx context.Context) (uint64, error) {
	n, err := g.client.Get(ctx, g.key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Bump increments the shared generation.
func (g *RedisGeneration) Bump(ctx context.Context) error {
	return g.client.Incr(ctx, g.key).Err()
}

// Cache memoises permission lookups and effective permission sets in an LRU,
// keyed by generation. It wraps a Source and is itself a Source, so an Engine
// built over it answers from cache until the next Invalidate.
type Cache struct {
	source    Source
	gen       Generation
	epoch     atomic.Uint64
	effective *lru.Cache[string, []string]
	perms     *lru.Cache[string, Permission]
	group     singleflight.Group
	logger    *slog.Logger
}

// NewCache wraps source with an LRU of the given size.
func NewCache(source Source, gen Generation, size int, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	if gen == nil {
		gen = &LocalGeneration{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	effective, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	perms, err := lru.New[string, Permission](size)
	if err != nil {
		return nil, err
	}
	return &Cache{source: source, gen: gen, effective: effective, perms: perms, logger: logger}, nil
}

// GetPermission returns the permission, from cache when possible.
func (c *Cache) GetPermission(ctx context.Context, id string) (Permission, error) {
	key, ok := c.key(ctx, id)
	if !ok {
		return c.source.GetPermission(ctx, id)
	}
	if perm, hit := c.perms.Get(key); hit {
		return perm, nil
	}
	perm, err := c.source.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	c.perms.Add(key, perm)
	return perm, nil
}

// EffectivePermissions returns the subject's effective set, collapsing
// concurrent loads for the same subject and generation.
func (c *Cache) EffectivePermissions(ctx context.Context, subject string) ([]string, error) {
	key, ok := c.key(ctx, subject)
	if !ok {
		return c.source.EffectivePermissions(ctx, subject)
	}
	if perms, hit := c.effective.Get(key); hit {
		return slices.Clone(perms), nil
	}
	// The shared load must not die with whichever caller started it; each
	// caller still stops waiting when its own context ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		perms, err := c.source.EffectivePermissions(loadCtx, subject)
		if err != nil {
			return nil, err
		}
		c.effective.Add(key, perms)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	}
}

// Invalidate makes every entry cached so far unreachable. The local epoch is
// advanced before the shared generation so this process never serves a stale
// entry even when the shared bump fails.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.epoch.Add(1)
	c.effective.Purge()
	c.perms.Purge()
	if err := c.gen.Bump(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Cache) key(ctx context.Context, id string) (string, bool) {
	g, err := c.gen.Current(ctx)
	if err != nil {
		c.logger.Warn("rbac cache generation unavailable", slog.Any("error", err))
		return "", false
	}
	return strconv.FormatUint(c.epoch.Load(), 10) + ":" + strconv.FormatUint(g, 10) + ":" + id, true
}

var (
	_ Source      = (*Cache)(nil)
	_ Invalidator = (*Cache)(nil)
)
