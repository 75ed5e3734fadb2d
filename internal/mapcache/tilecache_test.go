package mapcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCache(cfg CacheConfig) *TileCache {
	return NewTileCache(cfg, nil, zerolog.Nop())
}

func TestTileCache_PutGetRoundTrip(t *testing.T) {
	c := newTestCache(DefaultCacheConfig())
	ctx := context.Background()
	key := TileKey{Z: 1, X: 2, Y: 3}

	if err := c.Put(ctx, key, []byte("tile-bytes"), "image/png", nil, "etag-1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	tile, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected tile present")
	}
	if string(tile.Bytes) != "tile-bytes" || tile.ETag != "etag-1" {
		t.Errorf("tile = %+v", tile)
	}
}

func TestTileCache_EvictsOldestWhenCountExceeded(t *testing.T) {
	c := newTestCache(CacheConfig{MaxTiles: 2, MaxSize: 0})
	ctx := context.Background()

	c.Put(ctx, TileKey{X: 1}, []byte("a"), "", nil, "")
	time.Sleep(time.Millisecond)
	c.Put(ctx, TileKey{X: 2}, []byte("b"), "", nil, "")
	time.Sleep(time.Millisecond)
	c.Put(ctx, TileKey{X: 3}, []byte("c"), "", nil, "")

	if _, ok := c.Get(ctx, TileKey{X: 1}); ok {
		t.Error("expected oldest tile (X:1) evicted")
	}
	if _, ok := c.Get(ctx, TileKey{X: 3}); !ok {
		t.Error("expected newest tile (X:3) present")
	}
	if s := c.Stats(); s.Count != 2 {
		t.Errorf("Stats().Count = %d, want 2", s.Count)
	}
}

func TestTileCache_EvictsBySizeBound(t *testing.T) {
	c := newTestCache(CacheConfig{MaxTiles: 100, MaxSize: 10})
	ctx := context.Background()

	c.Put(ctx, TileKey{X: 1}, make([]byte, 6), "", nil, "")
	time.Sleep(time.Millisecond)
	c.Put(ctx, TileKey{X: 2}, make([]byte, 6), "", nil, "")

	if s := c.Stats(); s.TotalSize > 10 {
		t.Errorf("TotalSize = %d, want <= 10", s.TotalSize)
	}
	if _, ok := c.Get(ctx, TileKey{X: 1}); ok {
		t.Error("expected oldest tile evicted to respect size bound")
	}
}

func TestTileCache_GetEvictsExpiredTile(t *testing.T) {
	c := newTestCache(DefaultCacheConfig())
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	c.Put(ctx, TileKey{X: 1}, []byte("stale"), "", &past, "")
	if _, ok := c.Get(ctx, TileKey{X: 1}); ok {
		t.Error("expected expired tile to be absent")
	}
	if s := c.Stats(); s.Count != 0 {
		t.Errorf("Stats().Count = %d, want 0 after lazy eviction", s.Count)
	}
}

func TestTileCache_Clear(t *testing.T) {
	c := newTestCache(DefaultCacheConfig())
	ctx := context.Background()
	c.Put(ctx, TileKey{X: 1}, []byte("a"), "", nil, "")
	c.Put(ctx, TileKey{X: 2}, []byte("b"), "", nil, "")

	c.Clear(ctx)
	if s := c.Stats(); s.Count != 0 {
		t.Errorf("Stats().Count = %d, want 0 after Clear", s.Count)
	}
}

type fakeTileRemote struct {
	mu   sync.Mutex
	data map[TileKey][]byte
}

func newFakeTileRemote() *fakeTileRemote {
	return &fakeTileRemote{data: make(map[TileKey][]byte)}
}

func (f *fakeTileRemote) Put(_ context.Context, key TileKey, data []byte, _ *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return nil
}

func (f *fakeTileRemote) Get(_ context.Context, key TileKey) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	return data, ok, nil
}

func (f *fakeTileRemote) Evict(_ context.Context, key TileKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestTileCache_GetFallsBackToRemoteOnLocalMiss(t *testing.T) {
	c := newTestCache(DefaultCacheConfig())
	remote := newFakeTileRemote()
	c.SetRemote(remote)
	ctx := context.Background()
	key := TileKey{Z: 1, X: 2, Y: 3}

	remote.data[key] = []byte("remote-bytes")

	tile, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected remote fallback to produce a hit")
	}
	if string(tile.Bytes) != "remote-bytes" {
		t.Errorf("tile.Bytes = %q, want %q", tile.Bytes, "remote-bytes")
	}
}

func TestTileCache_PutMirrorsToRemote(t *testing.T) {
	c := newTestCache(DefaultCacheConfig())
	remote := newFakeTileRemote()
	c.SetRemote(remote)
	ctx := context.Background()
	key := TileKey{Z: 1, X: 2, Y: 3}

	if err := c.Put(ctx, key, []byte("tile-bytes"), "image/png", nil, "etag-1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, ok, err := remote.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected remote to receive the put, ok=%v err=%v", ok, err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("remote data = %q, want %q", data, "tile-bytes")
	}
}

func TestTileCache_MaxTilesZeroRejectsAllPuts(t *testing.T) {
	c := newTestCache(CacheConfig{MaxTiles: 0, MaxSize: 0})
	ctx := context.Background()

	err := c.Put(ctx, TileKey{X: 1}, []byte("a"), "", nil, "")
	if err == nil {
		t.Fatal("expected Put to reject when MaxTiles <= 0")
	}

	if s := c.Stats(); s.Count != 0 {
		t.Errorf("Stats().Count = %d, want 0, invariant count <= maxTiles violated", s.Count)
	}
}
