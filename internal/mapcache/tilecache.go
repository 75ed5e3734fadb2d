package mapcache

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fieldsync/offline-core/internal/storage"
	"github.com/fieldsync/offline-core/internal/synccore"
)

// TileRemote is a shared backing tier for tiles evicted from (or never
// fetched into) this process's in-memory cache. *RedisTileStore is the
// concrete implementation; defined as an interface here so the fallback
// path is testable without a live Redis connection.
type TileRemote interface {
	Put(ctx context.Context, key TileKey, data []byte, expiresAt *time.Time) error
	Get(ctx context.Context, key TileKey) ([]byte, bool, error)
	Evict(ctx context.Context, key TileKey) error
}

// TileCache is the bounded tile store of spec §4.5. Tiles are optionally
// written through to a storage.Adapter's asset collection (and deleted from
// it on Evict and Clear); the adapter is the same Persistence Layer the
// Document Store and sync queue use (spec §6.1). Get does not read tiles
// back from the adapter, so a restarted process starts with an empty
// in-memory cache.
type TileCache struct {
	cfg     CacheConfig
	adapter storage.Adapter // optional, may be nil
	remote  TileRemote      // optional, may be nil
	log     zerolog.Logger

	mu    sync.Mutex
	tiles map[TileKey]*Tile
}

func NewTileCache(cfg CacheConfig, adapter storage.Adapter, log zerolog.Logger) *TileCache {
	return &TileCache{
		cfg:     cfg,
		adapter: adapter,
		log:     log.With().Str("component", "mapcache").Logger(),
		tiles:   make(map[TileKey]*Tile),
	}
}

// SetRemote wires an optional shared backing tier in: a tile miss in this
// process's in-memory cache falls back to it before counting as a cache
// miss, letting sibling processes (or a previous process lifetime) share
// already-fetched tiles.
func (c *TileCache) SetRemote(r TileRemote) {
	c.mu.Lock()
	c.remote = r
	c.mu.Unlock()
}

// NewRedisBackedTileCache builds a TileCache whose remote tier is a Redis
// key/value store, for a deployment where several processes (or successive
// lifetimes of one process) share already-fetched tiles instead of each
// refetching from the tile server.
func NewRedisBackedTileCache(cfg CacheConfig, adapter storage.Adapter, redisClient *redis.Client, keyPrefix string, log zerolog.Logger) *TileCache {
	c := NewTileCache(cfg, adapter, log)
	c.SetRemote(NewRedisTileStore(redisClient, keyPrefix))
	return c
}

func tileAssetKey(k TileKey) string {
	return "tile:" + strconv.Itoa(k.Z) + ":" + strconv.Itoa(k.X) + ":" + strconv.Itoa(k.Y)
}

// Put stores a tile, evicting per spec §4.5's two-step policy: first by
// count, then by size, before the new tile is added. A cache configured
// with MaxTiles <= 0 rejects every put, since no amount of eviction can
// satisfy count <= 0 once an entry exists.
func (c *TileCache) Put(ctx context.Context, key TileKey, data []byte, mimeType string, expiresAt *time.Time, etag string) error {
	if c.cfg.MaxTiles <= 0 {
		return synccore.InvalidArgument("tile cache configured with maxTiles <= 0 rejects all puts", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tiles) >= c.cfg.MaxTiles {
		c.evictOldestLocked(1)
	}

	newSize := int64(len(data))
	if c.cfg.MaxSize > 0 {
		for c.totalSizeLocked()+newSize > c.cfg.MaxSize && len(c.tiles) > 0 {
			avgSize := c.totalSizeLocked() / int64(len(c.tiles))
			if avgSize <= 0 {
				avgSize = 1
			}
			toEvict := int(math.Ceil(float64(newSize) / float64(avgSize)))
			if toEvict < 1 {
				toEvict = 1
			}
			evicted := c.evictOldestLocked(toEvict)
			if evicted == 0 {
				break
			}
		}
	}

	tile := &Tile{
		Key:       key,
		Bytes:     data,
		MimeType:  mimeType,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		ETag:      etag,
	}
	c.tiles[key] = tile
	remote := c.remote

	if c.adapter != nil {
		if err := c.adapter.PutAsset(ctx, tileAssetKey(key), data); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist tile asset")
		}
	}
	if remote != nil {
		if err := remote.Put(ctx, key, data, expiresAt); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist tile to remote cache")
		}
	}
	return nil
}

// Get returns a tile, evicting it lazily if expired (spec §4.5 step 3). A
// miss in the local in-memory cache falls back to the remote tier, if one
// is configured, before reporting ok=false.
func (c *TileCache) Get(ctx context.Context, key TileKey) (*Tile, bool) {
	c.mu.Lock()
	tile, ok := c.tiles[key]
	if ok && tile.ExpiresAt != nil && tile.ExpiresAt.Before(time.Now()) {
		delete(c.tiles, key)
		ok = false
	}
	remote := c.remote
	c.mu.Unlock()

	if ok {
		return tile, true
	}
	if remote == nil {
		return nil, false
	}

	data, found, err := remote.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read tile from remote cache")
	}
	if !found {
		return nil, false
	}
	return &Tile{Key: key, Bytes: data}, true
}

func (c *TileCache) Evict(ctx context.Context, key TileKey) {
	c.mu.Lock()
	delete(c.tiles, key)
	remote := c.remote
	c.mu.Unlock()
	if c.adapter != nil {
		c.adapter.DeleteAsset(ctx, tileAssetKey(key))
	}
	if remote != nil {
		if err := remote.Evict(ctx, key); err != nil {
			c.log.Warn().Err(err).Msg("failed to evict tile from remote cache")
		}
	}
}

func (c *TileCache) Clear(ctx context.Context) {
	c.mu.Lock()
	keys := make([]TileKey, 0, len(c.tiles))
	for k := range c.tiles {
		keys = append(keys, k)
	}
	c.tiles = make(map[TileKey]*Tile)
	c.mu.Unlock()
	if c.adapter != nil {
		for _, k := range keys {
			c.adapter.DeleteAsset(ctx, tileAssetKey(k))
		}
	}
}

func (c *TileCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Count: len(c.tiles), TotalSize: c.totalSizeLocked()}
}

// HumanStats renders Stats() with human-readable byte sizes for logging.
func (c *TileCache) HumanStats() string {
	s := c.Stats()
	return humanize.Comma(int64(s.Count)) + " tiles, " + humanize.Bytes(uint64(s.TotalSize))
}

func (c *TileCache) totalSizeLocked() int64 {
	var total int64
	for _, t := range c.tiles {
		total += int64(len(t.Bytes))
	}
	return total
}

// evictOldestLocked removes up to n tiles ordered by CreatedAt ascending,
// returning how many were actually removed.
func (c *TileCache) evictOldestLocked(n int) int {
	if n <= 0 || len(c.tiles) == 0 {
		return 0
	}
	type entry struct {
		key     TileKey
		created time.Time
	}
	ordered := make([]entry, 0, len(c.tiles))
	for k, t := range c.tiles {
		ordered = append(ordered, entry{k, t.CreatedAt})
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].created.Before(ordered[j-1].created); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	if n > len(ordered) {
		n = len(ordered)
	}
	for i := 0; i < n; i++ {
		delete(c.tiles, ordered[i].key)
	}
	return n
}
