// Package mapcache is the Offline Map Cache (spec §4.5): a bounded tile
// cache keyed by (z, x, y) plus a per-layer vector feature store with
// upstream reconciliation.
package mapcache

import "time"

// TileKey identifies one raster/vector tile by zoom/column/row.
type TileKey struct {
	Z, X, Y int
}

// Tile is one cached tile payload.
type Tile struct {
	Key       TileKey
	Bytes     []byte
	MimeType  string
	CreatedAt time.Time
	ExpiresAt *time.Time
	ETag      string
}

// CacheConfig bounds the tile cache (spec §4.5 "Eviction policy").
type CacheConfig struct {
	MaxTiles int
	MaxSize  int64 // bytes
}

// DefaultCacheConfig is a reasonable bound for an offline device cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxTiles: 2000,
		MaxSize:  256 << 20, // 256 MiB
	}
}

// CacheStats summarizes current tile cache occupancy.
type CacheStats struct {
	Count     int
	TotalSize int64
}

// Point is a WGS84 longitude/latitude pair.
type Point struct {
	Lng, Lat float64
}

// BBox is an axis-aligned bounding box in the same coordinate space as Point.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b BBox) contains(p Point) bool {
	return p.Lng >= b.MinX && p.Lng <= b.MaxX && p.Lat >= b.MinY && p.Lat <= b.MaxY
}

func (b BBox) overlaps(o BBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Geometry is a minimal GeoJSON-shaped geometry: a Point carries coordinates
// directly; any other geometry type may carry a declared BBox for the
// overlap test, or neither, in which case it is conservatively included in
// every bbox query (spec §4.5 "Vector feature store").
type Geometry struct {
	Type  string
	Point *Point
	BBox  *BBox
}

// Feature is one vector feature belonging to a layer.
type Feature struct {
	ID           string
	LayerID      string
	Geometry     Geometry
	Properties   map[string]interface{}
	Synced       bool
	LastModified time.Time
}

// ReconcileSummary is the outcome of one reconcile() call (spec §4.5 "Layer
// reconciliation").
type ReconcileSummary struct {
	Applied int
	Deleted int
	Failed  []string // feature ids that could not be confirmed synced
	Err     error
}
