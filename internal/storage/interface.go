package storage

import "context"

// Adapter is the Persistence Layer contract (spec §4.1): a durable,
// key-indexed store over five logical collections. Document and metadata
// writes for the same id are paired atomically; the rest are independent
// key-value collections keyed by opaque string.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) (bool, error)

	// PutDocument atomically persists the document's opaque CRDT state
	// (an update blob, typically produced by crdt.Document.GetUpdate)
	// alongside its Metadata row.
	PutDocument(ctx context.Context, id string, state []byte, meta Metadata) error
	GetDocument(ctx context.Context, id string) ([]byte, *Metadata, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocumentIDs(ctx context.Context, limit, offset int) ([]string, error)

	GetMetadata(ctx context.Context, id string) (*Metadata, error)
	UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error

	PutAsset(ctx context.Context, key string, data []byte) error
	GetAsset(ctx context.Context, key string) ([]byte, error)
	DeleteAsset(ctx context.Context, key string) error

	PutConfig(ctx context.Context, key string, data []byte) error
	GetConfig(ctx context.Context, key string) ([]byte, error)
	DeleteConfig(ctx context.Context, key string) error

	EnqueueSync(ctx context.Context, entry QueueEntry) (string, error)
	ListSyncQueue(ctx context.Context, status *QueueStatus) ([]QueueEntry, error)
	UpdateSyncQueue(ctx context.Context, id string, patch QueueEntryPatch) error
	RemoveSyncQueue(ctx context.Context, id string) error
	ClearSyncQueue(ctx context.Context, status *QueueStatus) error
}

// Config holds adapter connection settings, mirroring the pool-sizing knobs
// a pgx-backed Postgres adapter exposes.
type Config struct {
	ConnectionString  string
	PoolMinConns      int32
	PoolMaxConns      int32
	ConnectionTimeout int // seconds
}

func DefaultConfig() *Config {
	return &Config{
		PoolMinConns:      2,
		PoolMaxConns:      10,
		ConnectionTimeout: 5,
	}
}
