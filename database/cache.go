package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban/board"
)

const boardIndexKey = "kanban:boards"

// Cache wraps a board store with Redis-backed caching for reads. Writes go to the
// store first and then replace the cached snapshot. A read that misses only fills the
// cache if nothing newer got there first, so a slow reader cannot put back an old
// snapshot after a write.
type Cache struct {
	base  board.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base board.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("database.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadBoard(ctx context.Context, boardID string) (*board.Snapshot, error) {
	var snap board.Snapshot
	if c.load(ctx, boardCacheKey(boardID), &snap) {
		snap.Normalize()
		return &snap, nil
	}

	loaded, err := c.base.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, boardCacheKey(boardID), loaded)
	return loaded, nil
}

// LoadBoardCommitted reads straight from the backing store. board.Service uses it for
// every load that precedes a save.
func (c *Cache) LoadBoardCommitted(ctx context.Context, boardID string) (*board.Snapshot, error) {
	return c.base.LoadBoard(ctx, boardID)
}

func (c *Cache) ListBoards(ctx context.Context) ([]board.Board, error) {
	var boards []board.Board
	if c.load(ctx, boardIndexKey, &boards) {
		return boards, nil
	}

	boards, err := c.base.ListBoards(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, boardIndexKey, boards)
	return boards, nil
}

func (c *Cache) SaveBoard(ctx context.Context, snap *board.Snapshot) error {
	if err := c.base.SaveBoard(ctx, snap); err != nil {
		return err
	}
	c.writeThrough(ctx, snap)
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, boardID string) error {
	if err := c.base.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			log.WithError(err).WithField("key", key).Warn("Cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// fill caches a value read from the backing store unless the key is already set.
func (c *Cache) fill(ctx context.Context, key string, v any) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.SetNX(ctx, key, data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

// writeThrough replaces the cached snapshot with the one just saved and drops the
// board index. If the snapshot cannot be cached the entry is evicted instead.
func (c *Cache) writeThrough(ctx context.Context, snap *board.Snapshot) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err == nil {
		err = c.redis.Set(ctx, boardCacheKey(snap.Board.ID), data, c.ttl).Err()
	}
	if err != nil {
		log.WithError(err).WithField("board_id", snap.Board.ID).Warn("Cache write failed")
		c.evict(ctx, snap.Board.ID)
		return
	}
	if err := c.redis.Del(ctx, boardIndexKey).Err(); err != nil {
		log.WithError(err).WithField("board_id", snap.Board.ID).Warn("Cache evict failed")
	}
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, boardCacheKey(boardID), boardIndexKey).Err(); err != nil {
		log.WithError(err).WithField("board_id", boardID).Warn("Cache evict failed")
	}
}

func boardCacheKey(boardID string) string {
	return "kanban:board:" + boardID
}
