package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskmate-sync/domain"
)

type backend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
	FetchWorkspace(ctx context.Context, userID string) (domain.Workspace, error)
	FetchUser(ctx context.Context, userID string) (domain.User, error)
	UpsertUser(ctx context.Context, u domain.User) error
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
	Ping(ctx context.Context) error
}

// Cache wraps a backend with Redis-backed caching for read operations.
// Commands evict the entries they may change.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	if c.load(ctx, boardCacheKey(boardID), &b) {
		return b, nil
	}
	b, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, boardCacheKey(boardID), b)
	return b, nil
}

func (c *Cache) FetchWorkspace(ctx context.Context, userID string) (domain.Workspace, error) {
	var ws domain.Workspace
	if c.load(ctx, workspaceCacheKey(userID), &ws) {
		return ws, nil
	}
	ws, err := c.base.FetchWorkspace(ctx, userID)
	if err != nil {
		return domain.Workspace{}, err
	}
	c.store(ctx, workspaceCacheKey(userID), ws)
	return ws, nil
}

// FetchUser is not cached: profiles are read once per channel join.
func (c *Cache) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	return c.base.FetchUser(ctx, userID)
}

func (c *Cache) UpsertUser(ctx context.Context, u domain.User) error {
	return c.base.UpsertUser(ctx, u)
}

func (c *Cache) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if err := c.base.EnqueueCommands(ctx, userID, cmds); err != nil {
		return err
	}
	c.evict(ctx, evictionKeys(userID, cmds))
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return c.base.Ping(ctx)
}

// EvictBoard drops the cached tree of a board.
func (c *Cache) EvictBoard(ctx context.Context, boardID string) {
	c.evict(ctx, []string{boardCacheKey(boardID)})
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys []string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

// evictionKeys lists the cache entries cmds may change: the caller's
// workspace and every board a command names.
func evictionKeys(userID string, cmds []domain.Command) []string {
	keys := []string{workspaceCacheKey(userID)}
	seen := map[string]bool{}
	for _, cmd := range cmds {
		if id := cmd.BoardID(); id != "" && !seen[id] {
			seen[id] = true
			keys = append(keys, boardCacheKey(id))
		}
	}
	return keys
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}

func workspaceCacheKey(userID string) string {
	return "workspace:" + userID
}
