package mapcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldsync/offline-core/internal/synccore"
)

// RedisTileStore is an optional cross-process tile backing store (spec
// §4.5/§6.1's asset collection, extended to a shared cache for a
// multi-device or multi-process deployment). It reuses the channel-prefix
// convention from storage.RedisPubSub for key namespacing but speaks the
// plain key/value API rather than pub/sub, since tile bytes need
// TTL-bounded storage, not fan-out.
type RedisTileStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisTileStore(client *redis.Client, keyPrefix string) *RedisTileStore {
	if keyPrefix == "" {
		keyPrefix = "fieldsync:tile:"
	}
	return &RedisTileStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisTileStore) key(k TileKey) string {
	return r.keyPrefix + tileAssetKey(k)
}

// Put writes tile bytes with an optional TTL derived from expiresAt.
func (r *RedisTileStore) Put(ctx context.Context, key TileKey, data []byte, expiresAt *time.Time) error {
	var ttl time.Duration
	if expiresAt != nil {
		ttl = time.Until(*expiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return synccore.Storage("failed to write tile to redis", err)
	}
	return nil
}

// Get fetches tile bytes, returning ok=false on a miss (including expiry,
// which Redis enforces itself via the TTL set in Put).
func (r *RedisTileStore) Get(ctx context.Context, key TileKey) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, synccore.Storage("failed to read tile from redis", err)
	}
	return data, true, nil
}

func (r *RedisTileStore) Evict(ctx context.Context, key TileKey) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return synccore.Storage("failed to evict tile from redis", err)
	}
	return nil
}
